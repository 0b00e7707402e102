package recorder

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/recallai/separate-streams-recorder/internal/config"
	log "github.com/sirupsen/logrus"
)

var ErrFileExists = errors.New("file already exists")

// EnsureDirectory creates the recorder directory if it is missing.
func EnsureDirectory(cfg config.Recorder) error {
	dir := path.Clean(cfg.Directory)
	dirFileMode, err := parseFileMode(cfg.DirFileMode)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, dirFileMode); err != nil {
		return fmt.Errorf("recorder directory could not be created %s: %w", dir, err)
	}
	return nil
}

func CheckFsPermissions(cfg config.Recorder) error {
	dir := path.Clean(cfg.Directory)

	if err := checkDirectory(dir); err != nil {
		return err
	}

	fileMode, err := parseFileMode(cfg.FileMode)
	if err != nil {
		return err
	}
	if _, err := parseFileMode(cfg.DirFileMode); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, ".rec-file-perm-check-*")

	if err != nil {
		return fmt.Errorf("recorder directory is not writable: %w", err)
	}

	defer func() {
		_ = tmpFile.Close()
		if err := os.Remove(tmpFile.Name()); err != nil {
			log.WithField("file", tmpFile.Name()).Warnf("could not remove permission check file: %v", err)
		}
	}()

	// Check if the configured file mode can be applied
	if err := tmpFile.Chmod(fileMode); err != nil {
		return fmt.Errorf("cannot apply file mode %s: %w", cfg.FileMode, err)
	}

	return nil
}

// ValidateAndPrepareFile resolves file against the recorder directory,
// creates its parent directory and checks that it does not exist yet.
func ValidateAndPrepareFile(cfg config.Recorder, file string) (string, os.FileMode, error) {
	dir := path.Clean(cfg.Directory)

	if err := checkDirectory(dir); err != nil {
		return "", 0, err
	}

	file = path.Clean(dir + string(os.PathSeparator) + file)
	fileDir := path.Dir(file)

	if _, err := os.Stat(fileDir); err != nil {
		if !os.IsNotExist(err) {
			return "", 0, fmt.Errorf("file directory is not accessible %s", fileDir)
		}

		dirFileMode, err := parseFileMode(cfg.DirFileMode)
		if err != nil {
			return "", 0, err
		}

		err = os.MkdirAll(fileDir, dirFileMode)

		if err != nil && !os.IsExist(err) {
			return "", 0, fmt.Errorf("file directory could not be created %s", fileDir)
		}
	}

	if _, err := os.Stat(file); !os.IsNotExist(err) {
		return "", 0, fmt.Errorf("%w: %s", ErrFileExists, file)
	}

	fileMode, err := parseFileMode(cfg.FileMode)
	if err != nil {
		return "", 0, err
	}

	return file, fileMode, nil
}

func parseFileMode(mode string) (os.FileMode, error) {
	if parsedFileMode, err := strconv.ParseUint(mode, 0, 32); err != nil {
		return 0, fmt.Errorf("invalid file mode %s", mode)
	} else {
		return os.FileMode(parsedFileMode), nil
	}
}

func checkDirectory(dir string) error {
	if fileInfo, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("recorder directory does not exist: %s", dir)
		}
		return fmt.Errorf("could not stat recorder directory %s: %w", dir, err)
	} else if !fileInfo.IsDir() {
		return fmt.Errorf("recorder path is not a directory: %s", dir)
	}

	return nil
}
