package appstats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/recallai/separate-streams-recorder/internal/types"
)

func TestStatsFilePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"out/recording-a/participant-1.mp3", "out/recording-a/participant-1-stats.json"},
		{"out/recording-a/participant-2-1.mp4", "out/recording-a/participant-2-1-stats.json"},
		{"participant-3", "participant-3-stats.json"},
	}
	for _, tt := range tests {
		if got := StatsFilePath(tt.in); got != tt.want {
			t.Errorf("StatsFilePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatsFileWriter(t *testing.T) {
	tmpDir := t.TempDir()

	writer := NewStatsFileWriter(0600)

	testStats := &types.StreamStats{
		RecordingID:    "rec-1",
		ParticipantID:  100,
		Kind:           "audio",
		StartTime:      time.Now().UnixMilli(),
		EndTime:        time.Now().UnixMilli() + 1000,
		ChunksReceived: 3,
		PaddingSeconds: 3,
		Flushes:        1,
		BytesWritten:   192000,
	}

	t.Run("WriteStats_Success", func(t *testing.T) {
		mediaPath := filepath.Join(tmpDir, "participant-100.mp3")
		if err := writer.WriteStats(mediaPath, testStats); err != nil {
			t.Errorf("WriteStats failed: %v", err)
		}

		statsPath := filepath.Join(tmpDir, "participant-100-stats.json")
		content, err := os.ReadFile(statsPath)
		if err != nil {
			t.Fatalf("Failed to read stats file: %v", err)
		}

		var readStats StatsFileOutput
		if err := json.Unmarshal(content, &readStats); err != nil {
			t.Fatalf("Failed to unmarshal stats file: %v", err)
		}

		if readStats.Stream.RecordingID != testStats.RecordingID {
			t.Errorf("RecordingID mismatch: got %s, want %s",
				readStats.Stream.RecordingID, testStats.RecordingID)
		}

		if readStats.Stream.ParticipantID != testStats.ParticipantID {
			t.Errorf("ParticipantID mismatch: got %d, want %d",
				readStats.Stream.ParticipantID, testStats.ParticipantID)
		}

		if readStats.Stream.BytesWritten != testStats.BytesWritten {
			t.Errorf("BytesWritten mismatch: got %d, want %d",
				readStats.Stream.BytesWritten, testStats.BytesWritten)
		}

		if readStats.StatsTimestamp == 0 {
			t.Error("StatsTimestamp not set")
		}
	})

	t.Run("WriteStats_InvalidPath", func(t *testing.T) {
		invalidPath := filepath.Join(tmpDir, "nonexistent", "participant-100.mp3")
		err := writer.WriteStats(invalidPath, testStats)
		if err == nil {
			t.Error("Expected error for invalid path, got nil")
		}
	})
}
