package workitems

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

func TestValidateParentKind(t *testing.T) {
	tests := []struct {
		name       string
		kind       models.WorkItemKind
		parentKind models.WorkItemKind
		wantErr    bool
	}{
		{"project has no parent", models.WorkItemKindProject, "", false},
		{"project rejects any parent", models.WorkItemKindProject, models.WorkItemKindProject, true},
		{"initiative may have no parent", models.WorkItemKindInitiative, "", false},
		{"initiative parent must be project", models.WorkItemKindInitiative, models.WorkItemKindProject, false},
		{"initiative rejects non-project parent", models.WorkItemKindInitiative, models.WorkItemKindEpic, true},
		{"epic requires initiative parent", models.WorkItemKindEpic, models.WorkItemKindInitiative, false},
		{"epic rejects missing parent", models.WorkItemKindEpic, "", true},
		{"issue requires epic parent", models.WorkItemKindIssue, models.WorkItemKindEpic, false},
		{"issue rejects initiative parent", models.WorkItemKindIssue, models.WorkItemKindInitiative, true},
		{"task accepts any parent", models.WorkItemKindTask, models.WorkItemKindIssue, false},
		{"task accepts no parent", models.WorkItemKindTask, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateParentKind(tt.kind, tt.parentKind)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTimestamps(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)

	assert.NoError(t, validateTimestamps(nil, nil))
	assert.NoError(t, validateTimestamps(&now, nil))
	assert.NoError(t, validateTimestamps(nil, &later))
	assert.NoError(t, validateTimestamps(&now, &later))
	assert.NoError(t, validateTimestamps(&now, &now))
	assert.Error(t, validateTimestamps(&later, &now))
}
