package storage

import (
	"fmt"

	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// ApplyEntityUpdates writes updates onto e. It is shared by backends that
// hold entities as Go values and by tests.
func ApplyEntityUpdates(e *types.Entity, updates map[string]interface{}) error {
	for key, value := range updates {
		switch key {
		case types.FieldToolCreated:
			s, err := asString(key, value)
			if err != nil {
				return err
			}
			e.ToolCreated = types.ToolCreated(s)
		case types.FieldToolIssueKey:
			s, err := asString(key, value)
			if err != nil {
				return err
			}
			e.ToolIssueKey = s
		case types.FieldToolIssueLink:
			s, err := asString(key, value)
			if err != nil {
				return err
			}
			e.ToolIssueLink = s
		case types.FieldTitle:
			s, err := asString(key, value)
			if err != nil {
				return err
			}
			e.Title = s
		case types.FieldChangeStatus:
			s, err := asString(key, value)
			if err != nil {
				return err
			}
			e.ChangeAnalysisStatus = types.ChangeStatus(s)
		case types.FieldDeleted:
			b, ok := value.(bool)
			if !ok {
				return fmt.Errorf("field %s: want bool, got %T", key, value)
			}
			e.Deleted = b
		default:
			return fmt.Errorf("entity %w: %s", ErrUnknownField, key)
		}
	}
	return nil
}

// ApplyVersionUpdates writes updates onto v.
func ApplyVersionUpdates(v *types.Version, updates map[string]interface{}) error {
	for key, value := range updates {
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		switch key {
		case types.FieldVersionStatus:
			v.Status = s
		case types.FieldTestcasesConfirmedBy:
			v.TestcasesConfirmedBy = s
		case types.FieldRequirementsConfirmedBy:
			v.RequirementsConfirmedBy = s
		default:
			return fmt.Errorf("version %w: %s", ErrUnknownField, key)
		}
	}
	return nil
}

// ApplyJobUpdates writes updates onto j.
func ApplyJobUpdates(j *types.ArchiveJob, updates map[string]interface{}) error {
	for key, value := range updates {
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		switch key {
		case types.FieldJobResultURL:
			j.ResultURL = s
		case types.FieldJobFileName:
			j.FileName = s
		case types.FieldJobError:
			j.Error = s
		default:
			return fmt.Errorf("job %w: %s", ErrUnknownField, key)
		}
	}
	return nil
}

func asString(key string, value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case types.ToolCreated:
		return string(v), nil
	case types.ChangeStatus:
		return string(v), nil
	}
	return "", fmt.Errorf("field %s: want string, got %T", key, value)
}
