// Package db embeds the SQL schema applied at service startup.
package db

import _ "embed"

// Schema holds the DDL for every table the checkout core owns or mutates.
//
//go:embed migrations/001_schema.sql
var Schema string
