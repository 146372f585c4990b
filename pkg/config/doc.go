// Package config loads and validates the dispatchd configuration.
//
// Configuration is a single YAML document validated with struct tags
// (go-playground/validator). Defaults are applied first, then the file,
// then a small set of environment overrides (DISPATCHD_LISTEN_ADDRESS,
// DISPATCHD_GITHUB_REPO, DISPATCHD_STATE_DIR, LOG_LEVEL).
//
// The Watcher reloads the file on change via fsnotify so that routing
// settings (model allow-list, bot markers) can be adjusted without a
// restart. A reload that fails validation keeps the previous config.
package config
