/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package version reports the build identity of the bridge. The variables are set with -ldflags at build time.
package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

const (
	DevelopmentVersion = "dev"
	ProductName        = "dbgp-bridge"

	// Chrome DevTools protocol version implemented by the bridge, as reported by the discovery endpoint.
	ProtocolVersion = "1.1"
)

var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

type VersionOutput struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *time.Time `json:"buildTimestamp,omitempty"`
	GoVersion  string     `json:"goVersion"`
	Protocol   string     `json:"protocolVersion"`
}

func Version() VersionOutput {
	out := VersionOutput{
		Version:    ProductVersion,
		CommitHash: CommitHash,
		GoVersion:  runtime.Version(),
		Protocol:   ProtocolVersion,
	}
	if out.Version == "" {
		out.Version = DevelopmentVersion
	}

	if BuildTimestamp != "" {
		// Either Unix seconds or RFC 3339
		if seconds, err := strconv.ParseInt(BuildTimestamp, 10, 64); err == nil {
			buildTime := time.Unix(seconds, 0).UTC()
			out.BuildTime = &buildTime
		} else if buildTime, timeErr := time.Parse(time.RFC3339, BuildTimestamp); timeErr == nil {
			out.BuildTime = &buildTime
		}
	}

	// Binaries built without -ldflags still know the commit they were built from.
	if out.CommitHash == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					out.CommitHash = setting.Value
				}
			}
		}
	}

	return out
}

// Product is the product token the bridge presents to Chrome DevTools clients, e.g. "dbgp-bridge/1.2.0".
func Product() string {
	return ProductName + "/" + Version().Version
}
