package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notebooklm-mcp-server/internal/auth"
)

const sampleCookieHeader = "SID=aaa; HSID=bbb; SSID=ccc; APISID=ddd; SAPISID=eee; OTHER=fff"

// withTestConfig points the CLI at a scratch config whose artifact lives in a
// temp dir, and restores the package state afterwards.
func withTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	artifactPath := filepath.Join(dir, "auth.json")

	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "auth:\n  artifact_path: " + artifactPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	prevConfig, prevLogger := configPath, logger
	prevFile, prevCSRF, prevSession := importFile, importCSRF, importSessionID
	configPath = cfgPath
	logger = zap.NewNop()
	importFile, importCSRF, importSessionID = "", "", ""
	t.Cleanup(func() {
		configPath, logger = prevConfig, prevLogger
		importFile, importCSRF, importSessionID = prevFile, prevCSRF, prevSession
	})

	return artifactPath
}

func TestImportWritesArtifact(t *testing.T) {
	artifactPath := withTestConfig(t)

	headerFile := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(headerFile, []byte(sampleCookieHeader+"\n"), 0o644))
	importFile = headerFile
	importCSRF = "csrf-token"
	importSessionID = "-42"

	require.NoError(t, runImport(nil, nil))

	store := auth.NewStore(artifactPath, 168*time.Hour, zap.NewNop())
	artifact, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "aaa", artifact.Cookies["SID"])
	assert.Equal(t, "fff", artifact.Cookies["OTHER"])
	assert.Equal(t, "csrf-token", artifact.CSRFToken)
	assert.Equal(t, "-42", artifact.SessionID)
	assert.False(t, artifact.ExtractedAt.IsZero())
}

func TestImportRejectsIncompleteHeader(t *testing.T) {
	artifactPath := withTestConfig(t)

	headerFile := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(headerFile, []byte("SID=aaa; HSID=bbb"), 0o644))
	importFile = headerFile

	err := runImport(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAPISID")

	_, statErr := os.Stat(artifactPath)
	assert.True(t, os.IsNotExist(statErr), "rejected import must not write an artifact")
}

func TestCheckReportsUsableArtifact(t *testing.T) {
	artifactPath := withTestConfig(t)

	store := auth.NewStore(artifactPath, 168*time.Hour, zap.NewNop())
	require.NoError(t, store.Save(&auth.Artifact{
		Version: auth.ArtifactVersion,
		Cookies: map[string]string{
			"SID": "1", "HSID": "2", "SSID": "3", "APISID": "4", "SAPISID": "5",
		},
		CSRFToken:   "csrf-token",
		ExtractedAt: time.Now(),
	}))

	assert.NoError(t, runCheck(nil, nil))
}

func TestCheckFailsOnStaleArtifact(t *testing.T) {
	artifactPath := withTestConfig(t)

	store := auth.NewStore(artifactPath, 168*time.Hour, zap.NewNop())
	require.NoError(t, store.Save(&auth.Artifact{
		Version: auth.ArtifactVersion,
		Cookies: map[string]string{
			"SID": "1", "HSID": "2", "SSID": "3", "APISID": "4", "SAPISID": "5",
		},
		CSRFToken:   "csrf-token",
		ExtractedAt: time.Now().Add(-30 * 24 * time.Hour),
	}))

	assert.Error(t, runCheck(nil, nil))
}

func TestCheckFailsWithoutArtifact(t *testing.T) {
	withTestConfig(t)
	assert.Error(t, runCheck(nil, nil))
}

func TestLogoutRemovesArtifact(t *testing.T) {
	artifactPath := withTestConfig(t)

	store := auth.NewStore(artifactPath, 168*time.Hour, zap.NewNop())
	require.NoError(t, store.Save(&auth.Artifact{
		Version:     auth.ArtifactVersion,
		Cookies:     map[string]string{"SID": "1"},
		ExtractedAt: time.Now(),
	}))

	require.NoError(t, runLogout(nil, nil))
	_, err := os.Stat(artifactPath)
	assert.True(t, os.IsNotExist(err))

	// Logging out twice is fine; the second call has nothing to remove.
	assert.NoError(t, runLogout(nil, nil))
}
