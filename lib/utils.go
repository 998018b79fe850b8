package lib

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
)

// firstLine reads the first line of path. what names the content for error
// messages ("role arn", "web identity token", ...).
func firstLine(path, what string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to locate specified %s file %s", what, path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", errors.Wrapf(err, "unable to read %s from file %s", what, path)
		}
		return "", errors.Errorf("%s file %s is empty", what, path)
	}
	return scanner.Text(), nil
}
