package negotiate

import "testing"

func TestTasksForLevel_Superset(t *testing.T) {
	for _, sys := range []bool{false, true} {
		probe := Probe{HasSysSchemaAccess: sys}
		for k := 1; k < len(Levels); k++ {
			lower := map[string]bool{}
			for _, name := range TaskNames(TasksForLevel(Levels[k-1], probe)) {
				lower[name] = true
			}
			higher := map[string]bool{}
			for _, name := range TaskNames(TasksForLevel(Levels[k], probe)) {
				higher[name] = true
			}
			for name := range lower {
				if !higher[name] {
					t.Errorf("sys=%v: task %q in %v missing from %v", sys, name, Levels[k-1], Levels[k])
				}
			}
			if len(higher) <= len(lower) {
				t.Errorf("sys=%v: %v adds no tasks over %v", sys, Levels[k], Levels[k-1])
			}
		}
	}
}

func TestTasksForLevel_SysSchemaConditional(t *testing.T) {
	has := func(tasks []Task) bool {
		for _, task := range tasks {
			if task.Name == "sys_schema_helpers" {
				return true
			}
		}
		return false
	}

	if has(TasksForLevel(Level2, Probe{})) {
		t.Error("sys_schema_helpers present without sys schema access")
	}
	if !has(TasksForLevel(Level2, Probe{HasSysSchemaAccess: true})) {
		t.Error("sys_schema_helpers missing with sys schema access")
	}
	if has(TasksForLevel(Level1, Probe{HasSysSchemaAccess: true})) {
		t.Error("sys_schema_helpers should not appear below Level 2")
	}
}

func TestTasksForLevel_Counts(t *testing.T) {
	tests := []struct {
		level Level
		want  int
	}{
		{Level0, 5},
		{Level1, 8},
		{Level2, 12},
		{Level3, 15},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := len(TasksForLevel(tt.level, Probe{})); got != tt.want {
				t.Errorf("len(TasksForLevel(%v)) = %d, want %d", tt.level, got, tt.want)
			}
		})
	}
}
