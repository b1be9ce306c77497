package integrity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/sentinel/internal/logging"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{"valid", []byte("MODLxxxxxx"), true},
		{"too short", []byte("MODL"), false},
		{"wrong magic", []byte("XXXXxxxxxx"), false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Validate(tc.data); got != tc.want {
				t.Errorf("Validate(%q) = %v, want %v", tc.data, got, tc.want)
			}
		})
	}
}

func TestDigestIsStableSHA256(t *testing.T) {
	d1 := Digest([]byte("hello"))
	d2 := Digest([]byte("hello"))
	require.Equal(t, d1, d2)
	require.Len(t, d1, 64)
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "backups"), "node-1", 3, logging.Nop())
	require.NoError(t, err)

	modelPath := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("MODLv1data"), 0o644))

	backupID, err := s.Snapshot(modelPath, 1)
	require.NoError(t, err)
	require.NotEmpty(t, backupID)

	require.NoError(t, os.WriteFile(modelPath, []byte("MODLv2data"), 0o644))

	require.NoError(t, s.Restore(backupID, modelPath))
	data, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	require.Equal(t, "MODLv1data", string(data))
}

func TestHistoryAppendTruncatesToMaxKept(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "backups"), "node-1", 2, logging.Nop())
	require.NoError(t, err)

	for v := 1; v <= 4; v++ {
		require.NoError(t, s.HistoryAppend(HistoryEntry{Version: v, Timestamp: int64(v), NodeID: "node-1"}))
	}

	tail := s.HistoryTail(10)
	require.Len(t, tail, 2)
	require.Equal(t, 3, tail[0].Version)
	require.Equal(t, 4, tail[1].Version)
}

func TestNewestBackupForVersionPicksMostRecent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "backups"), "node-1", 3, logging.Nop())
	require.NoError(t, err)

	modelPath := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("MODLv2a"), 0o644))
	_, err = s.Snapshot(modelPath, 2)
	require.NoError(t, err)

	got, err := s.NewestBackupForVersion(2)
	require.NoError(t, err)
	require.Contains(t, got, "model_v2_")
}
