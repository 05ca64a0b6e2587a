package config

import "github.com/spf13/afero"

// fs is swapped for afero.NewMemMapFs() in the tests so that config files
// can be written without touching the disk.
var fs = afero.NewOsFs()
