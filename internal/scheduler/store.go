package scheduler

import (
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/paths"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// schedulesFile is the on-disk shape of .state/schedules.yaml.
type schedulesFile struct {
	Schedules []v1.Schedule `yaml:"schedules"`
}

// loadSchedules reads the persisted schedule set. A missing file is an
// empty set.
func loadSchedules(resolver *paths.Resolver) ([]v1.Schedule, error) {
	data, err := os.ReadFile(resolver.SchedulesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.InternalError("failed to read schedules", err)
	}

	var file schedulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.InternalError("malformed schedules.yaml", err)
	}
	return file.Schedules, nil
}

// saveSchedules persists the schedule set atomically.
func saveSchedules(resolver *paths.Resolver, schedules []v1.Schedule) error {
	data, err := yaml.Marshal(schedulesFile{Schedules: schedules})
	if err != nil {
		return apperrors.InternalError("failed to marshal schedules", err)
	}
	if err := paths.WriteFileAtomic(resolver.SchedulesPath(), data, 0o644); err != nil {
		return apperrors.InternalError("failed to write schedules", err)
	}
	return nil
}
