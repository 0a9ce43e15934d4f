package am

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingByKey(t *testing.T, in *ConfigIntrospection, key string) SettingInfo {
	t.Helper()
	for _, s := range in.Settings {
		if s.Key == key {
			return s
		}
	}
	t.Fatalf("setting %s not reported", key)
	return SettingInfo{}
}

func TestConfigIntrospection(t *testing.T) {
	home, project := isolate(t)
	userFile := filepath.Join(home, ".statetree", "am.toml")
	projectFile := filepath.Join(project, ProjectFile)
	writeFile(t, userFile, "[tree]\nnamespace = \"org.s7s.user\"\n")
	writeFile(t, projectFile, "[sync]\nname = \"desk\"\n")
	t.Setenv("STATETREE_LOG_LEVEL", "warn")

	in := GetConfigIntrospection()
	assert.Equal(t, projectFile, in.ConfigFile)

	ns := settingByKey(t, in, "tree.namespace")
	assert.Equal(t, SourceUser, ns.Source)
	assert.Equal(t, userFile, ns.SourcePath)
	assert.Equal(t, "org.s7s.user", ns.Value)

	name := settingByKey(t, in, "sync.name")
	assert.Equal(t, SourceProject, name.Source)

	level := settingByKey(t, in, "log.level")
	assert.Equal(t, SourceEnvironment, level.Source)
	assert.Equal(t, "STATETREE_LOG_LEVEL", level.SourcePath)
	assert.Equal(t, "warn", level.Value)

	workers := settingByKey(t, in, "events.workers")
	assert.Equal(t, SourceDefault, workers.Source)

	for i := 1; i < len(in.Settings); i++ {
		require.Less(t, in.Settings[i-1].Key, in.Settings[i].Key, "settings are sorted")
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "STATETREE_SYNC_LISTEN_ADDR", EnvKey("sync.listen_addr"))
}
