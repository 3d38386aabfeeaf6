package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-metadata-sync/internal/config"
	"repo-metadata-sync/internal/cursor"
	"repo-metadata-sync/internal/tablestore"
)

// fakeGitHub serves two repositories of acme. widgets has two files at head
// w1; gadgets fails every ref lookup.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	repos := `[
		{"id": 1, "name": "widgets", "full_name": "acme/widgets", "html_url": "https://github.com/acme/widgets", "default_branch": "main", "owner": {"login": "acme"}},
		{"id": 2, "name": "gadgets", "full_name": "acme/gadgets", "html_url": "https://github.com/acme/gadgets", "default_branch": "main", "owner": {"login": "acme"}}
	]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/orgs/acme/repos", "/user/repos":
			fmt.Fprintln(w, repos)
		case "/repos/acme/widgets/git/ref/heads/main":
			fmt.Fprintln(w, `{"ref": "refs/heads/main", "object": {"sha": "w1", "type": "commit"}}`)
		case "/repos/acme/widgets/git/trees/w1":
			fmt.Fprintln(w, `{"sha": "w1", "tree": [{"path": "README.md", "type": "blob"}, {"path": "main.go", "type": "blob"}]}`)
		case "/repos/acme/gadgets/git/ref/heads/main":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintln(w, `{"message": "boom"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// setEnv points the configuration at the fake server and the in-process store.
func setEnv(t *testing.T, apiURL string) {
	t.Helper()
	for _, key := range []string{"GITHUB_ORG", "AZURE_STORAGE_CONN_STRING", "REDIS_URL", "SCAN_INTERVAL", "MAX_WORKERS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("GITHUB_TOKEN", "test-token")
	t.Setenv("GITHUB_USER_OR_ORG", "acme")
	t.Setenv("GITHUB_API_URL", apiURL)
	t.Setenv("AZURE_TABLE_CONN", "memory://")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "error")
}

func TestRun_Seed(t *testing.T) {
	setEnv(t, fakeGitHub(t).URL)
	var out bytes.Buffer

	err := run([]string{"seed", "--env-dir", t.TempDir()}, &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Fetched 2 repositories for acme")
	assert.Contains(t, out.String(), "Stored 2 GitHub repositories to table repometadata")
}

func TestRun_SeedExplicitTable(t *testing.T) {
	setEnv(t, fakeGitHub(t).URL)
	var out bytes.Buffer

	err := run([]string{"seed", "--table", "customtable", "--env-dir", t.TempDir()}, &out)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Stored 2 GitHub repositories to table customtable")
}

func TestRun_Scan(t *testing.T) {
	setEnv(t, fakeGitHub(t).URL)
	var out bytes.Buffer

	err := run([]string{"scan", "--env-dir", t.TempDir()}, &out)

	require.NoError(t, err, "a failing repository does not fail the run")
	assert.Contains(t, out.String(), "Scanned 2 repositories: 1 succeeded, 1 failed, 2 records written")
	assert.Contains(t, out.String(), "Failed repositories: acme/gadgets")
}

func TestRun_ListingFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"message": "Bad credentials"}`)
	}))
	t.Cleanup(server.Close)
	setEnv(t, server.URL)

	err := run([]string{"seed", "--env-dir", t.TempDir()}, io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRun_MissingConfig(t *testing.T) {
	setEnv(t, "")
	t.Setenv("GITHUB_TOKEN", "")

	err := run([]string{"scan", "--env-dir", t.TempDir()}, io.Discard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN is a required configuration field")
}

func TestNewApp_ScanIsIncremental(t *testing.T) {
	ctx := context.Background()
	server := fakeGitHub(t)
	cfg := &config.Config{
		GithubToken:     "test-token",
		GithubAPIURL:    server.URL,
		Account:         "acme",
		StoreConnString: "memory://",
		RepoTable:       "repometadata",
		FileTable:       "RepoFileMetadata",
		CursorTable:     "GitRepoCommits",
		MaxWorkers:      4,
	}
	a, err := newApp(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	first, err := a.syncer.ScanFileChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.RecordsWritten)

	files, err := a.store.Table("RepoFileMetadata").ListEntities(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.Equal(t, "widgets", f.Properties["Repo"])
		assert.Equal(t, "added", f.Properties["Status"])
	}

	sha, err := cursor.NewTableStore(a.store, "GitRepoCommits").Get(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "w1", sha)

	second, err := a.syncer.ScanFileChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.RecordsWritten, "head unchanged since the last scan")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		svc, closeFn, err := openStore(ctx, "memory://")
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &tablestore.MemoryService{}, svc)
	})

	t.Run("azure connection string", func(t *testing.T) {
		svc, closeFn, err := openStore(ctx, "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=a2V5;EndpointSuffix=core.windows.net")
		require.NoError(t, err)
		defer closeFn()
		assert.NotNil(t, svc)
	})

	t.Run("malformed azure connection string", func(t *testing.T) {
		_, _, err := openStore(ctx, "not-a-connection-string")
		assert.Error(t, err)
	})
}

func TestOpenCursors(t *testing.T) {
	store := tablestore.NewMemoryService()

	t.Run("table store by default", func(t *testing.T) {
		cs, closeFn, err := openCursors(&config.Config{CursorTable: "GitRepoCommits"}, store)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &cursor.TableStore{}, cs)
	})

	t.Run("redis when configured", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cs, closeFn, err := openCursors(&config.Config{RedisURL: "redis://" + mr.Addr()}, store)
		require.NoError(t, err)
		defer closeFn()
		require.IsType(t, &cursor.RedisStore{}, cs)

		require.NoError(t, cs.Set(context.Background(), "acme/widgets", "w1"))
		stored, err := mr.Get("reposync:cursor:acme/widgets")
		require.NoError(t, err)
		assert.Equal(t, "w1", stored)
	})
}

func TestSetLogLevel(t *testing.T) {
	v := new(slog.LevelVar)
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		setLogLevel(level, v)
		assert.Equal(t, want, v.Level(), level)
	}
}
