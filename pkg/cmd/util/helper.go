// Copyright 2021 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/jobflow/pkg/errors"
	"github.com/pingcap/jobflow/pkg/logutil"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpproxy"
)

// InitCmd initializes the logger of a command, the command exits when
// the log file can not be opened.
func InitCmd(cmd *cobra.Command, logCfg *logutil.Config) {
	if err := logutil.InitLogger(logCfg); err != nil {
		cmd.PrintErrf("init logger error %v\n", errors.ErrorStack(err))
		os.Exit(1)
	}
	log.Debug("init log", zap.String("command", cmd.CommandPath()),
		zap.String("file", logCfg.File), zap.String("level", logCfg.Level))
}

// LogHTTPProxies logs the proxy environment and the proxy that serves
// the workflow server at addr, if any.
func LogHTTPProxies(addr string) {
	fields := proxyFields(httpproxy.FromEnvironment(), addr)
	if len(fields) > 0 {
		log.Info("using proxy config", fields...)
	}
}

func proxyFields(cfg *httpproxy.Config, addr string) []zap.Field {
	var fields []zap.Field
	for _, env := range []struct{ key, value string }{
		{"http_proxy", cfg.HTTPProxy},
		{"https_proxy", cfg.HTTPSProxy},
		{"no_proxy", cfg.NoProxy},
	} {
		if env.value != "" {
			fields = append(fields, zap.String(env.key, env.value))
		}
	}
	if len(fields) == 0 {
		return nil
	}
	proxy, err := cfg.ProxyFunc()(&url.URL{Scheme: "http", Host: addr})
	if err != nil {
		return append(fields, zap.NamedError("server-proxy-error", err))
	}
	if proxy != nil {
		fields = append(fields, zap.String("server-proxy", proxy.String()))
	}
	return fields
}

// StrictDecodeFile decodes the toml file at path into cfg. Keys that map
// to no field of cfg are reported as a configuration error, a typo in a
// suite or server file must not be silently ignored.
func StrictDecodeFile(path, component string, cfg interface{}) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return cerrors.ErrConfig.Wrap(err).GenWithStackByArgs(component + " file " + path)
	}
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}
	return cerrors.ErrConfig.GenWithStackByArgs(fmt.Sprintf("%s file %s has unknown configuration options: %s",
		component, path, strings.Join(keys, ", ")))
}

// JSONPrint prints v as indented JSON to the output of cmd.
func JSONPrint(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	cmd.Printf("%s\n", data)
	return nil
}
