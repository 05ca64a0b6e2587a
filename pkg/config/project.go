package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/site/pkg/errors"
)

const (
	// DefaultPath is where the project configuration is read from when no
	// path is given on the command line or in the environment.
	DefaultPath = "site.yaml"

	// PathEnvKey is the environment variable that overrides DefaultPath.
	PathEnvKey = "SITE_CONFIG"

	// InitialVersion is the first version of the config. Config files that
	// do not specify a version will default to this version.
	InitialVersion = "v1alpha1"

	// SupportedVersion is the version of the config understood by the
	// current binary.
	SupportedVersion = "v1alpha1"
)

// Mode is the direction of a project's synchronization.
type Mode string

const (
	// Push copies the local source to the remote destination.
	Push Mode = "push"

	// Pull copies the remote destination into the local source.
	Pull Mode = "pull"
)

// Config is the top level configuration file.
type Config struct {
	Version  string    `json:"version,omitempty" toml:"version"`
	Projects []Project `json:"projects" toml:"projects"`

	// Only populated and consumed by site. Never set by user.
	path string
}

// Project describes one local directory that's kept in sync with a remote
// destination.
type Project struct {
	Name        string            `json:"name" toml:"name"` // Required.
	Source      string            `json:"source" toml:"source"`
	Destination Destination       `json:"destination" toml:"destination"`
	Exclude     []string          `json:"exclude,omitempty" toml:"exclude"`
	Options     map[string]string `json:"options,omitempty" toml:"options"`
	Mode        Mode              `json:"mode,omitempty" toml:"mode"`
	Live        bool              `json:"live,omitempty" toml:"live"`
}

func (c Config) getVersion() string {
	return c.Version
}

// GetPath returns the filepath that the config was parsed from. A getter
// method is used rather than making the field public so that it can't get set
// by the yaml Unmarshalling.
func (c Config) GetPath() string {
	return c.path
}

// alwaysIgnored are excluded from every project in addition to the user's
// patterns.
var alwaysIgnored = []string{".git", ".DS_Store", DefaultPath}

// Path returns the config path to use given the value of the --config flag.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(PathEnvKey); env != "" {
		return env
	}
	return DefaultPath
}

// Parse reads and validates the project configuration at `path`. Relative
// source paths are resolved relative to the directory containing the config.
func Parse(path string) (Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{
		path:    path,
		Version: InitialVersion,
	}
	if err := parseConfig(path, &config, SupportedVersion); err != nil {
		return Config{}, errors.WithContext(err, "parse")
	}

	relativeTo := filepath.Dir(path)
	if absPath, err := filepath.Abs(relativeTo); err == nil {
		relativeTo = absPath
	} else {
		log.WithError(err).Debug("Failed to parse absolute path")
	}

	for i, project := range config.Projects {
		cleaned, err := project.clean(relativeTo)
		if err != nil {
			return Config{}, errors.WithContext(err, fmt.Sprintf("project %q", project.Name))
		}
		config.Projects[i] = cleaned
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (p Project) clean(relativeTo string) (Project, error) {
	// Expand ~'s in the source path.
	source, err := homedir.Expand(p.Source)
	if err != nil {
		return Project{}, errors.WithContext(err, "expand homedir")
	}
	if source != "" && !filepath.IsAbs(source) {
		source = filepath.Join(relativeTo, source)
	}
	if source != "" {
		source = filepath.Clean(source)
	}
	p.Source = source

	if p.Mode == "" {
		p.Mode = Push
	}

	// Patterns are passed to rsync untouched. A trailing slash limits a
	// pattern to directories.
	exclude := append([]string{}, p.Exclude...)
	p.Exclude = append(exclude, alwaysIgnored...)
	return p, nil
}

// Validate checks that every project is complete and uniquely named.
func (c Config) Validate() error {
	seen := map[string]struct{}{}
	for _, project := range c.Projects {
		if _, ok := seen[project.Name]; ok {
			return errors.DuplicateProjectError{Name: project.Name}
		}
		seen[project.Name] = struct{}{}

		if err := project.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the project has all the fields required to sync.
func (p Project) Validate() error {
	switch {
	case p.Name == "":
		return errors.MissingFieldError{Field: "name"}
	case p.Source == "":
		return errors.WithContext(errors.MissingFieldError{Field: "source"}, p.Name)
	case p.Destination.Path == "":
		return errors.WithContext(errors.MissingFieldError{Field: "destination"}, p.Name)
	}

	switch p.Mode {
	case Push:
	case Pull:
		if p.Live {
			return errors.NewFriendlyError("Project %q is configured to pull "+
				"and to stay live.\nLive syncing only watches local files, so it "+
				"requires `mode: push`.", p.Name)
		}
	default:
		return errors.NewFriendlyError("Project %q has an unknown mode %q. "+
			"Expected %q or %q.", p.Name, p.Mode, Push, Pull)
	}
	return nil
}

// Get returns the project with the given name.
func (c Config) Get(name string) (Project, bool) {
	for _, project := range c.Projects {
		if project.Name == name {
			return project, true
		}
	}
	return Project{}, false
}

// Select returns the projects with the given names, in order. If no names
// are given, all projects are returned.
func (c Config) Select(names []string) ([]Project, error) {
	if len(names) == 0 {
		return c.Projects, nil
	}

	var projects []Project
	for _, name := range names {
		project, ok := c.Get(name)
		if !ok {
			return nil, errors.NewFriendlyError("Project %q isn't defined in %q.\n\n"+
				"Expected one of [%s].", name, c.path, strings.Join(c.Names(), ", "))
		}
		projects = append(projects, project)
	}
	return projects, nil
}

// Names returns the sorted names of all projects.
func (c Config) Names() (names []string) {
	for _, project := range c.Projects {
		names = append(names, project.Name)
	}
	sort.Strings(names)
	return names
}
