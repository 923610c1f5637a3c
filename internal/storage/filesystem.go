package storage

import (
	"errors"
	"os"
	"syscall"
)

func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = destFile.ReadFrom(srcFile)
	return err
}

// CopyOrLinkFile attempts to create a hard link from srcPath to destPath,
// falling back to copying the file contents.
func CopyOrLinkFile(srcPath string, destPath string) error {
	if srcPath == destPath {
		return nil
	}

	// Remove the destination first to break any existing link; creating a
	// hard link over an existing file would otherwise fail or truncate.
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := os.Link(srcPath, destPath); err == nil {
		return nil
	}

	return CopyFile(srcPath, destPath)
}

func MoveFile(srcPath string, destPath string) error {
	if err := os.Rename(srcPath, destPath); err != nil {
		// Cross-filesystem renames fall back to copying into place.
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
			if copyErr := CopyOrLinkFile(srcPath, destPath); copyErr != nil {
				return copyErr
			}
			if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			return nil
		}
		return err
	}
	return nil
}
