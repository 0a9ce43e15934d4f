package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/statetree/am"
	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/db"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/st"
	stsync "github.com/teranos/statetree/sync"
	"github.com/teranos/statetree/version"
)

const testNS = "org.s7s.test"

// execute runs sub under a throwaway root and returns its output.
func execute(t *testing.T, sub *cobra.Command, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "stctl", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().CountP("verbose", "v", "")
	root.AddCommand(sub)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{sub.Name()}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// isolateConfig points configuration at empty temp locations.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	old := am.SystemConfigPath
	am.SystemConfigPath = filepath.Join(t.TempDir(), "none.toml")
	t.Cleanup(func() {
		am.SystemConfigPath = old
		am.Reset()
	})
	am.Reset()
}

func testConfig(t *testing.T) *am.Config {
	t.Helper()
	return &am.Config{
		Tree:     am.TreeConfig{Namespace: testNS, OIDSyntax: "v1", Retention: "none"},
		Events:   am.EventsConfig{Workers: 2},
		Sync:     am.SyncConfig{Name: "hub", Codec: "cbor", Compress: true},
		Database: am.DatabaseConfig{Path: filepath.Join(t.TempDir(), "node.db"), AutosaveMS: 10},
	}
}

func TestOidCommands(t *testing.T) {
	out, err := execute(t, OidCmd, "parse", testNS+":/profile/*/hostname(1..5)")
	require.NoError(t, err)
	assert.Contains(t, out, "Namespace:  "+testNS)
	assert.Contains(t, out, "Path:       /profile/*/hostname")
	assert.Contains(t, out, "Concrete:   false")
	assert.Contains(t, out, "Parent:     "+testNS+":/profile/*")

	out, err = execute(t, OidCmd, "resolve", testNS+":/profile/*/hostname", "dev1")
	require.NoError(t, err)
	assert.Equal(t, testNS+":/profile/dev1/hostname\n", out)

	tests := []struct {
		a, b string
		want string
	}{
		{testNS + ":/a", testNS + ":/a/b", "ancestor"},
		{testNS + ":/a/b", testNS + ":/a", "descendant"},
		{testNS + ":/a", testNS + ":/a", "equal"},
		{testNS + ":/a", testNS + ":/c", "unrelated"},
	}
	for _, tt := range tests {
		out, err := execute(t, OidCmd, "ancestor", tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want+"\n", out, "%s vs %s", tt.a, tt.b)
	}

	_, err = execute(t, OidCmd, "parse", "Bad Namespace:/x")
	assert.Error(t, err)
}

func TestSnapshotCommands(t *testing.T) {
	dir := t.TempDir()
	u := st.NewUpdate()
	u.Put(testNS+":/profile/hostname", st.AttributeValue{Timestamp: 5, Value: st.String("dev1")})
	u.Put(testNS+":/profile/cores", st.AttributeValue{Timestamp: 6, Value: st.Int(8)})
	data, err := codec.Encode(codec.JSON{}, u, false)
	require.NoError(t, err)

	in := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(in, data, 0644))
	out := filepath.Join(dir, "state.cbor")

	_, err = execute(t, SnapshotCmd, "convert", in, out, "--compress")
	require.NoError(t, err)
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, codec.IsCompressed(raw))

	want, err := codec.Hash(u)
	require.NoError(t, err)
	for _, file := range []string{in, out} {
		got, err := execute(t, SnapshotCmd, "digest", file)
		require.NoError(t, err)
		assert.Equal(t, want.String()+"\n", got, file)
	}

	shown, err := execute(t, SnapshotCmd, "show", out)
	require.NoError(t, err)
	assert.Contains(t, shown, testNS+":/profile/hostname")
	assert.Contains(t, shown, "dev1")

	_, err = execute(t, SnapshotCmd, "digest", filepath.Join(dir, "state.bin"))
	assert.Error(t, err, "unknown extension without --codec")
}

func TestNodeServesSyncAndExelet(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := newNode(ctx, cfg, nodeOptions{})
	require.NoError(t, err)
	n.start(ctx)

	hostname, err := n.tree.root.Attribute("profile", "hostname")
	require.NoError(t, err)
	require.NoError(t, hostname.Set(st.String("hub-1")))

	srv := httptest.NewServer(n.mux)
	defer srv.Close()

	client, err := openTree(testConfig(t))
	require.NoError(t, err)
	defer client.Close()

	conn, err := stsync.Dial(ctx, srv.URL)
	require.NoError(t, err)
	peer := stsync.NewPeer(conn, client.root, stsync.Options{Name: "laptop", Codec: codec.Proto{}}, nil)
	_, received, err := peer.Reconcile(ctx)
	require.NoError(t, conn.Close())
	require.NoError(t, err)
	assert.Equal(t, 1, received)
	assert.Equal(t, "hub", peer.RemoteName)
	assert.Equal(t, st.String("hub-1"), client.root.GetAttribute("profile", "hostname").Get())

	rec := httptest.NewRecorder()
	n.mux.ServeHTTP(rec, httptest.NewRequest("POST", "/exelet", bytes.NewReader([]byte(`{"id":"1","type":"st.snapshot"}`))))
	assert.Equal(t, 200, rec.Code, rec.Body.String())

	require.NoError(t, n.Close(context.Background()))

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	require.NoError(t, err)
	defer database.Close()
	stored, err := db.NewSnapshotStore(database, nil, logger.Logger).Load(context.Background(), testNS)
	require.NoError(t, err)
	assert.Contains(t, stored.Changed, testNS+":/profile/hostname", "changes are saved on shutdown")
}

func TestNodeRestoresSnapshot(t *testing.T) {
	cfg := testConfig(t)

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	require.NoError(t, err)
	u := st.NewUpdate()
	u.Put(testNS+":/net/ip", st.AttributeValue{Timestamp: 3, Value: st.String("10.0.0.2")})
	_, err = db.NewSnapshotStore(database, nil, logger.Logger).Save(context.Background(), testNS, u)
	require.NoError(t, err)
	require.NoError(t, database.Close())

	n, err := newNode(context.Background(), cfg, nodeOptions{})
	require.NoError(t, err)
	defer n.Close(context.Background())

	ip := n.tree.root.GetAttribute("net", "ip")
	require.NotNil(t, ip)
	assert.Equal(t, st.String("10.0.0.2"), ip.Get())
	assert.Equal(t, int64(3), ip.Timestamp())
	assert.Nil(t, n.sched, "no peers, no scheduler")
}

func TestSyncCommand(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "laptop.db")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(wd, "am.toml"), []byte(`
[tree]
namespace = "`+testNS+`"

[sync]
name = "laptop"
`), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub, err := newNode(ctx, testConfig(t), nodeOptions{})
	require.NoError(t, err)
	defer hub.Close(context.Background())
	hostname, err := hub.tree.root.Attribute("profile", "hostname")
	require.NoError(t, err)
	require.NoError(t, hostname.Set(st.String("hub-1")))

	srv := httptest.NewServer(hub.mux)
	defer srv.Close()

	out, err := execute(t, SyncCmd, srv.URL, "--db-path", path, "-vvv")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced with hub: sent 0, received 1")
	assert.Contains(t, out, testNS+":/profile/hostname", "-vvv prints received changes")

	database, err := db.OpenWithMigrations(path, logger.Logger)
	require.NoError(t, err)
	defer database.Close()
	stored, err := db.NewSnapshotStore(database, nil, logger.Logger).Load(context.Background(), testNS)
	require.NoError(t, err)
	assert.Contains(t, stored.Changed, testNS+":/profile/hostname")
}

func TestDbCommands(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "cli.db")

	database, err := db.OpenWithMigrations(path, logger.Logger)
	require.NoError(t, err)
	u := st.NewUpdate()
	u.Put(testNS+":/a", st.AttributeValue{Timestamp: 1, Value: st.Bool(true)})
	_, err = db.NewSnapshotStore(database, nil, logger.Logger).Save(context.Background(), "first", u)
	require.NoError(t, err)
	require.NoError(t, database.Close())

	out, err := execute(t, DbCmd, "list", "--db-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "cbor")

	out, err = execute(t, DbCmd, "show", "first", "--db-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, testNS+":/a")

	_, err = execute(t, DbCmd, "delete", "first", "--db-path", path)
	require.NoError(t, err)
	_, err = execute(t, DbCmd, "delete", "first", "--db-path", path)
	assert.ErrorIs(t, err, db.ErrNotFound)

	out, err = execute(t, DbCmd, "list", "--db-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots stored")
}

func TestAmCommands(t *testing.T) {
	isolateConfig(t)

	out, err := execute(t, AmCmd, "get", "sync.codec")
	require.NoError(t, err)
	assert.Equal(t, "cbor\n", out)

	_, err = execute(t, AmCmd, "get", "no.such.key")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "am.toml")
	_, err = execute(t, AmCmd, "set", "events.workers", "6", "--file", file)
	require.NoError(t, err)
	cfg, err := am.LoadFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Events.Workers)

	out, err = execute(t, AmCmd, "show", "--format", "json")
	require.NoError(t, err)
	var shown am.Config
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, am.DefaultNamespace, shown.Tree.Namespace)

	out, err = execute(t, AmCmd, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	out, err = execute(t, AmCmd, "where")
	require.NoError(t, err)
	assert.Contains(t, out, "tree.namespace")
	assert.Contains(t, out, "default")
}

func TestParseScalar(t *testing.T) {
	assert.Equal(t, int64(6), parseScalar("6"))
	assert.Equal(t, true, parseScalar("true"))
	assert.Equal(t, "proto", parseScalar("proto"))
	assert.Equal(t, "http://agent:8787", parseScalar("http://agent:8787"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, VersionCmd, "--json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get().Version, info.Version)

	out, err = execute(t, VersionCmd, "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Exelet constraints: unchecked (development build)")
}

func TestCloseWaitsForSlowPool(t *testing.T) {
	n, err := newNode(context.Background(), testConfig(t), nodeOptions{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))
}
