// Package config provides configuration loading, merging, and path
// management for convoy.
//
// The Load function merges configuration from multiple sources in priority
// order:
//
//  1. Global config (~/.config/convoy/convoy.json[c])
//  2. Project config (<directory>/convoy.json[c])
//  3. CONVOY_CONFIG file
//  4. CONVOY_CONFIG_CONTENT inline JSON
//  5. CONVOY_* environment variables
//
// Config files may contain jsonc comments. A .env file in the working
// directory is loaded before any of the above so environment overrides can
// live next to the project.
package config
