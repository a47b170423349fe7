package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/ooni/minisasl/internal/codec"
)

var (
	// ErrBadConfig is the generic error returned for invalid config files.
	ErrBadConfig = errors.New("config: bad config")
)

// SASLOptions make all the relevant negotiation options accessible to the
// different modules that need it.
type SASLOptions struct {
	// Mechanisms is the list of mechanisms to advertise or to select.
	Mechanisms []string

	// Hostname is the name of the host the initiator wants to reach.
	Hostname string

	// MaxFrameSize is the largest frame we send or accept.
	MaxFrameSize int

	// Username is the PLAIN username.
	Username string

	// Password is the PLAIN password.
	Password string
}

// ReadConfigFile expects a string with a path to a valid config file,
// and returns a pointer to a SASLOptions struct after parsing the file, and an
// error if the operation could not be completed.
func ReadConfigFile(filePath string) (*SASLOptions, error) {
	lines, err := getLinesFromFile(filePath)
	dir, _ := filepath.Split(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, err)
	}
	return getOptionsFromLines(lines, dir)
}

// HasAuthInfo returns true if we have both a username and a password.
func (o *SASLOptions) HasAuthInfo() bool {
	return o.Username != "" && o.Password != ""
}

func parseMechanisms(p []string, o *SASLOptions) error {
	if len(p) < 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "mechanisms expects at least one name")
	}
	o.Mechanisms = p
	return nil
}

func parseHostname(p []string, o *SASLOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "hostname expects one value")
	}
	o.Hostname = p[0]
	return nil
}

func parseMaxFrameSize(p []string, o *SASLOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "max-frame-size expects one value")
	}
	size, err := strconv.Atoi(p[0])
	if err != nil {
		return fmt.Errorf("%w: max-frame-size: %s", ErrBadConfig, err)
	}
	if size < codec.MinMaxFrameSize {
		return fmt.Errorf("%w: max-frame-size must be at least %d", ErrBadConfig, codec.MinMaxFrameSize)
	}
	o.MaxFrameSize = size
	return nil
}

func parseUsername(p []string, o *SASLOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "username expects one value")
	}
	o.Username = p[0]
	return nil
}

func parsePassword(p []string, o *SASLOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "password expects one value")
	}
	o.Password = p[0]
	return nil
}

func parseAuthUser(p []string, o *SASLOptions, basedir string) error {
	e := fmt.Errorf("%w: %s", ErrBadConfig, "auth-user-pass expects a valid file")
	if len(p) != 1 {
		return e
	}
	auth := toAbs(p[0], basedir)
	if sub, _ := isSubdir(basedir, auth); !sub {
		return fmt.Errorf("%w: %s", ErrBadConfig, "auth must be below config path")
	}
	if !existsFile(auth) {
		return e
	}
	creds, err := getCredentialsFromFile(auth)
	if err != nil {
		return err
	}
	o.Username, o.Password = creds[0], creds[1]
	return nil
}

var pMap = map[string]func([]string, *SASLOptions) error{
	"mechanisms":     parseMechanisms,
	"hostname":       parseHostname,
	"max-frame-size": parseMaxFrameSize,
	"username":       parseUsername,
	"password":       parsePassword,
}

func parseOption(o *SASLOptions, dir, key string, p []string, lineno int) error {
	if fn, found := pMap[key]; found {
		return fn(p, o)
	}
	if key == "auth-user-pass" {
		return parseAuthUser(p, o, dir)
	}
	log.Warnf("config: unsupported key %q in line %d", key, lineno)
	return nil
}

// getOptionsFromLines tries to parse all the lines coming from a config file
// and raises validation errors if the values do not conform to the expected
// format.
func getOptionsFromLines(lines []string, dir string) (*SASLOptions, error) {
	opt := &SASLOptions{MaxFrameSize: codec.MinMaxFrameSize}
	for lineno, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		p := strings.Fields(l)
		key, parts := p[0], p[1:]
		if err := parseOption(opt, dir, key, parts, lineno+1); err != nil {
			return nil, err
		}
	}
	return opt, nil
}

func existsFile(path string) bool {
	statbuf, err := os.Stat(path)
	if err != nil {
		return false
	}
	return statbuf.Mode().IsRegular()
}

// getLinesFromFile accepts a path parameter, and return a string array with
// its content and an error if the operation cannot be completed.
func getLinesFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// getCredentialsFromFile accepts a path string parameter, and return a string
// array containing the credentials in that file, and an error if the operation
// could not be completed.
func getCredentialsFromFile(path string) ([]string, error) {
	lines, err := getLinesFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, err)
	}
	if len(lines) != 2 {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, "malformed credentials file")
	}
	if len(lines[0]) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, "empty username in creds file")
	}
	if len(lines[1]) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, "empty password in creds file")
	}
	return lines, nil
}

// toAbs return an absolute path if the given path is not already absolute; to
// do so, it will append the path to the given basedir.
func toAbs(path, basedir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(basedir, path)
}

// isSubdir checks if a given path is a subdirectory of another. It returns
// true if that's the case, and any error raise during the check.
func isSubdir(parent, sub string) (bool, error) {
	p, err := filepath.Abs(parent)
	if err != nil {
		return false, err
	}
	s, err := filepath.Abs(sub)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(s, p), nil
}
