// SPDX-License-Identifier: ice License 1.0

package config

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

//nolint:gochecknoinits // Because we load the configs once, for the whole runtime
func init() {
	dotEnvPath := `.env`
	for range maxDotEnvDepth {
		if err := godotenv.Load(dotEnvPath); err == nil {
			break
		}
		dotEnvPath = fmt.Sprintf(`../%v`, dotEnvPath)
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	loadFirstApplicationConfigFile()
}

func MustLoadFromKey(key string, cfg any) {
	if err := LoadFromKey(key, cfg); err != nil {
		log.Panic(err)
	}
}

func LoadFromKey(key string, cfg any) error {
	return errors.Wrapf(viper.UnmarshalKey(key, cfg), "failed to load config by key %q", key)
}

func loadFirstApplicationConfigFile() {
	for _, f := range findAllApplicationConfigFiles() {
		viper.SetConfigFile(f)
		if err := viper.ReadInConfig(); err == nil {
			return
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Panic(err)
		}
	}

	log.Panic(errors.Errorf("could not find any %v files", applicationYAML))
}

func findAllApplicationConfigFiles() []string {
	var hints []string
	if p, err := os.Getwd(); err == nil {
		hints = append(hints, p)
	}
	if p, err := os.Executable(); err == nil {
		hints = append(hints, path.Dir(filepath.Join(p, "..")))
	}
	files := make([]string, 0, len(hints))
	for _, dir := range hints {
		files = append(files, glob(filepath.Join(dir, ".testdata", applicationYAML))...)
		files = append(files, glob(filepath.Join(dir, applicationYAML))...)
	}

	return append(files, relativeFiles()...)
}

// Fallback for tests run from a package dir: the repo root and its parent.
func relativeFiles() []string {
	//nolint:dogsled // Because those 3 blank identifiers are useless
	_, callerFile, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(callerFile), "..")

	return append(glob(filepath.Join(root, applicationYAML)), glob(filepath.Join(root, "..", applicationYAML))...)
}

func glob(pattern string) []string {
	f, err := filepath.Glob(pattern)
	if err != nil {
		log.Println(errors.Wrapf(err, "glob failed for [%v]", pattern))
	}

	return f
}
