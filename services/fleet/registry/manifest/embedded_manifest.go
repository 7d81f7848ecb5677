// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bridges the build system and the runtime registry. It uses the Go
embed package to bake capability_manifest.yaml into the compiled binary, so
the participant allow-lists are immutable at runtime and travel with the
executable.
*/

package manifest

import (
	_ "embed"
)

// CapabilityManifest holds the raw byte content of 'capability_manifest.yaml'.
//
// Populated at compile time via the Go 'embed' directive. Baking the YAML into
// the binary guarantees the allow-lists cannot be tampered with on the host
// filesystem without recompiling the application.
//
// Usage:
//
//	err := yaml.Unmarshal(manifest.CapabilityManifest, &targetStruct)
//
//go:embed capability_manifest.yaml
var CapabilityManifest []byte
