package appstats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/recallai/separate-streams-recorder/internal/types"
	log "github.com/sirupsen/logrus"
)

type StatsFileOutput struct {
	Stream         *types.StreamStats `json:"stream"`
	StatsTimestamp int64              `json:"statsTimestamp"`
}

type StatsFileWriter struct {
	fileMode os.FileMode
}

func NewStatsFileWriter(fileMode os.FileMode) *StatsFileWriter {
	return &StatsFileWriter{
		fileMode: fileMode,
	}
}

// StatsFilePath maps participant-1.mp3 to participant-1-stats.json.
func StatsFilePath(mediaFilePath string) string {
	return strings.TrimSuffix(mediaFilePath, filepath.Ext(mediaFilePath)) + "-stats.json"
}

func (w *StatsFileWriter) WriteStats(mediaFilePath string, stats *types.StreamStats) error {
	statsFilePath := StatsFilePath(mediaFilePath)

	jsonData, err := json.MarshalIndent(&StatsFileOutput{
		Stream:         stats,
		StatsTimestamp: time.Now().Unix(),
	}, "", "  ")

	if err != nil {
		return fmt.Errorf("JSON marshalling failed: %w", err)
	}

	if err := os.WriteFile(statsFilePath, jsonData, w.fileMode); err != nil {
		return fmt.Errorf("failed to write stats file: %w", err)
	}

	log.WithField("path", statsFilePath).
		WithField("stats", string(jsonData)).
		Tracef("Wrote stream stats to file")

	return nil
}
