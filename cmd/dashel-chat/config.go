/*
   Copyright The Dashel Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package main

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the optional on-disk configuration for the chat server,
// mirroring the shape of containerd's own daemon TOML config: a handful of
// top-level scalars, loaded once at startup and overridden by any flag the
// user passed explicitly.
type fileConfig struct {
	ListenTarget string `toml:"listen_target"`
	LogLevel     string `toml:"log_level"`
}

func defaultConfig() fileConfig {
	return fileConfig{ListenTarget: "tcpin:port=8765", LogLevel: "info"}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
