// Package configs provides embedded configuration templates for contextd.
//
// Templates are embedded at build time via //go:embed so they ship with
// every distribution (source builds, binary releases) without a separate
// asset step.
//
// The templates are used by `contextd config init`:
// - user-config.example.yaml: machine-level settings (embedder, reasoner,
//   reranker, transport) shared across every data directory.
// - project-config.example.yaml: settings scoped to one data directory
//   (search, consolidation, project pool, language).
//
// Configuration precedence (see internal/config/config.go Load()):
// 1. Hardcoded defaults (internal/config/config.go NewConfig())
// 2. User config (~/.config/contextd/config.yaml)
// 3. Data-directory config (<data_dir>/config.yaml)
// 4. Environment variables (CONTEXTD_*)
package configs

import _ "embed"

// UserConfigTemplate is the template written by `contextd config init --user`
// to the user config path (~/.config/contextd/config.yaml by default).
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template written by `contextd config init`
// to <data_dir>/config.yaml.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
