package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/staging"
)

// BuildBatch constructs the batch for a run mode. memberEnv supplies the
// per-member environment; the member's output subpath is taken from its
// PRMS_OUTPUT_DIR so the manifest points at what the model actually wrote.
func (c *Config) BuildBatch(mode domain.RunMode, memberEnv func(member int) (map[string]string, error)) (domain.Batch, error) {
	mc, err := c.Mode(mode)
	if err != nil {
		return domain.Batch{}, err
	}

	batchID := uuid.NewString()
	short := batchID[:8]
	tasks := make([]domain.RunTask, 0, mc.Members)
	for i := 0; i < mc.Members; i++ {
		env := map[string]string{"TERM": "dumb"}
		for k, v := range mc.Env {
			env[k] = v
		}
		if memberEnv != nil {
			extra, envErr := memberEnv(i)
			if envErr != nil {
				return domain.Batch{}, envErr
			}
			for k, v := range extra {
				env[k] = v
			}
		}
		env["ENS_NUM"] = fmt.Sprintf("%d", i)

		subpath := strings.TrimSpace(env["PRMS_OUTPUT_DIR"])
		if subpath == "" {
			subpath = fmt.Sprintf("%s/output/member-%02d", c.ProjectRoot, i)
		}

		tasks = append(tasks, domain.RunTask{
			ID:            fmt.Sprintf("member-%02d", i),
			BatchID:       batchID,
			MemberIndex:   i,
			ImageRef:      mc.ImageRef,
			ContainerName: fmt.Sprintf("onhm-%s-%s-m%02d", modeSlug(mode), short, i),
			Mounts: []domain.Mount{
				{Source: c.Volume, Target: c.VolumeMount, Mode: domain.MountReadWrite},
			},
			Env:           env,
			OutputSubpath: subpath,
			MaxRetries:    mc.MaxRetries,
		})
	}

	batch := domain.Batch{
		ID:        batchID,
		Mode:      mode,
		Tasks:     tasks,
		CreatedAt: time.Now().UTC(),
		Status:    domain.BatchStaging,
	}
	if err := batch.Validate(); err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

func modeSlug(mode domain.RunMode) string {
	return strings.ReplaceAll(string(mode), "-", "")
}

// LoadDataSources describes the supporting datasets the admin load-data
// command stages into the shared volume.
func (c *Config) LoadDataSources(envVars map[string]string) []staging.Source {
	mount := c.VolumeMount
	return []staging.Source{
		{
			Name:        "hru-fabric",
			Volume:      c.Volume,
			VolumeMount: mount,
			Image:       c.BaseImage,
			WorkingDir:  mount,
			CheckPath:   mount + "/gridmetetl/nhm_hru_data_gfv11",
			FetchCommand: "wget --waitretry=3 --retry-connrefused " + envVars["HRU_SOURCE"] +
				" && unzip -o " + envVars["HRU_DATA_PKG"] + " -d " + mount + "/gridmetetl" +
				" && chown -R nhm " + mount + "/gridmetetl" +
				" && chmod -R 766 " + mount + "/gridmetetl",
		},
		{
			Name:        "prms-conus",
			Volume:      c.Volume,
			VolumeMount: mount,
			Image:       c.BaseImage,
			WorkingDir:  mount,
			CheckPath:   mount + "/NHM_PRMS_CONUS_GF_1_1",
			FetchCommand: "wget --waitretry=3 --retry-connrefused " + envVars["PRMS_SOURCE"] +
				" && unzip " + envVars["PRMS_DATA_PKG"] +
				" && chown -R nhm " + mount + "/NHM_PRMS_CONUS_GF_1_1" +
				" && chmod -R 766 " + mount + "/NHM_PRMS_CONUS_GF_1_1",
		},
		{
			Name:        "prms-test-basin",
			Volume:      c.Volume,
			VolumeMount: mount,
			Image:       c.BaseImage,
			WorkingDir:  mount,
			CheckPath:   mount + "/NHM_PRMS_UC_GF_1_1",
			FetchCommand: "wget --waitretry=3 --retry-connrefused " + envVars["PRMS_TEST_SOURCE"] +
				" && unzip " + envVars["PRMS_TEST_DATA_PKG"] +
				" && chown -R nhm " + mount + "/NHM_PRMS_UC_GF_1_1" +
				" && chmod -R 766 " + mount + "/NHM_PRMS_UC_GF_1_1",
		},
	}
}

// OperationalSources lists the staging steps that prepare the daily run's
// forcing inputs: the gridMET ETL pull and the NetCDF to CBH conversion.
// Conversion steps always run; for an unchanged window they rewrite the
// same content, which keeps whole-batch retry safe.
func (c *Config) OperationalSources(w OperationalWindow, envVars map[string]string) []staging.Source {
	etlEnv := mergeEnv(envVars, map[string]string{
		"START_DATE": w.StartDate,
		"END_DATE":   w.EndDate,
	})
	convEnv := mergeEnv(envVars, map[string]string{
		"NCF2CBH_IDIR":       envVars["OP_NCF_IDIR"],
		"NCF2CBH_PREFIX":     "converted_filled",
		"NCF2CBH_START_DATE": w.StartDate,
		"NCF2CBH_ROOT_DIR":   c.ProjectRoot,
		"NCF2CBH_ENS_NUM":    "0",
		"NCF2CBH_MODE":       "op",
	})
	return []staging.Source{
		{
			Name:        "gridmetetl",
			Volume:      c.Volume,
			VolumeMount: c.VolumeMount,
			Image:       "nhmusgs/gridmetetl:0.30",
			Always:      true,
			Env:         etlEnv,
		},
		{
			Name:        "ncf2cbh-op",
			Volume:      c.Volume,
			VolumeMount: c.VolumeMount,
			Image:       "nhmusgs/ncf2cbh",
			Always:      true,
			Env:         convEnv,
		},
	}
}

// ForecastSources lists the staging steps that convert the CFSv2 forecast
// NetCDF ensemble into per-member CBH inputs.
func (c *Config) ForecastSources(w ForecastWindow, envVars map[string]string) []staging.Source {
	convEnv := mergeEnv(envVars, map[string]string{
		"NCF2CBH_IDIR":       envVars["CFSV2_NCF_ENSEMBLE_IDIR"],
		"NCF2CBH_PREFIX":     "converted_filled",
		"NCF2CBH_START_DATE": w.StartDate,
		"NCF2CBH_ROOT_DIR":   c.ProjectRoot,
		"NCF2CBH_MODE":       "ensemble",
	})
	return []staging.Source{
		{
			Name:        "ncf2cbh-ensemble",
			Volume:      c.Volume,
			VolumeMount: c.VolumeMount,
			Image:       "nhmusgs/ncf2cbh",
			Always:      true,
			Env:         convEnv,
		},
	}
}

// OperationalConversionSources lists the post-run step that converts the
// daily model output back to NetCDF for downstream consumers.
func (c *Config) OperationalConversionSources(envVars map[string]string) []staging.Source {
	convEnv := mergeEnv(envVars, map[string]string{
		"OUT_WORK_PATH": c.ProjectRoot + "/daily/output",
		"OUT_ROOT_PATH": c.ProjectRoot,
	})
	return []staging.Source{
		{
			Name:        "out2ncf-op",
			Volume:      c.Volume,
			VolumeMount: c.VolumeMount,
			Image:       "nhmusgs/out2ncf",
			Always:      true,
			Env:         convEnv,
		},
	}
}

// RestartUpdateSources lists the post-run step that advances the daily
// restart chain after a succeeded operational batch: a second PRMS run from
// the same restart state ending at the save-restart date, writing
// daily/restart/<save-restart-date>.restart. The main run only saves the
// forecast restart at the window end.
func (c *Config) RestartUpdateSources(w OperationalWindow, controlFile string) ([]staging.Source, error) {
	prmsEnv, err := w.RestartPRMSEnv(c.ProjectRoot, controlFile)
	if err != nil {
		return nil, err
	}
	image := "nhmusgs/prms:5.2.1"
	if mc, ok := c.Modes[domain.ModeOperational]; ok && mc != nil && strings.TrimSpace(mc.ImageRef) != "" {
		image = mc.ImageRef
	}
	return []staging.Source{
		{
			Name:        "prms-restart",
			Volume:      c.Volume,
			VolumeMount: c.VolumeMount,
			Image:       image,
			Always:      true,
			Env:         prmsEnv,
		},
	}, nil
}

// HorizonDays returns the default forecast horizon for a run mode: 28 days
// for the sub-seasonal ensemble, six months for the seasonal ensemble.
func HorizonDays(mode domain.RunMode) int {
	if mode == domain.ModeSeasonal {
		return 183
	}
	return 28
}

func mergeEnv(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
