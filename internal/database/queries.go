package database

import "strings"

const extensionColumns = "id, name, display_name, icon, active"

const installColumns = "id, extension_id, version, installs, updates, total_installs, delta, onprem_downloads, time"

var ListExtensionsQuery = strings.Join([]string{
	"SELECT", extensionColumns,
	"FROM extensions",
	"ORDER BY id",
}, " ")

var ActiveExtensionsQuery = strings.Join([]string{
	"SELECT", extensionColumns,
	"FROM extensions",
	"WHERE active",
	"ORDER BY id",
}, " ")

var ExtensionByNameQuery = strings.Join([]string{
	"SELECT", extensionColumns,
	"FROM extensions",
	"WHERE name = $1",
}, " ")

var InsertExtensionQuery = strings.Join([]string{
	"INSERT INTO extensions (name, display_name, icon, active)",
	"VALUES ($1, $2, $3, $4)",
	"RETURNING id",
}, " ")

var UpdateExtensionQuery = strings.Join([]string{
	"UPDATE extensions",
	"SET display_name = $2, icon = $3, active = $4, updated_at = NOW()",
	"WHERE id = $1",
}, " ")

// LockExtensionQuery serializes install history writes of one extension.
var LockExtensionQuery = strings.Join([]string{
	"SELECT id FROM extensions",
	"WHERE id = $1",
	"FOR UPDATE",
}, " ")

var LastTwoInstallsQuery = strings.Join([]string{
	"SELECT", installColumns,
	"FROM extension_installs",
	"WHERE extension_id = $1",
	"ORDER BY time DESC, id DESC",
	"LIMIT 2",
}, " ")

var ListInstallsQuery = strings.Join([]string{
	"SELECT", installColumns,
	"FROM extension_installs",
	"WHERE extension_id = $1",
	"ORDER BY time ASC, id ASC",
}, " ")

var InsertInstallQuery = strings.Join([]string{
	"INSERT INTO extension_installs",
	"(extension_id, version, installs, updates, total_installs, delta, onprem_downloads, time)",
	"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
	"RETURNING id",
}, " ")

var UpdateInstallQuery = strings.Join([]string{
	"UPDATE extension_installs",
	"SET version = $2, installs = $3, updates = $4, total_installs = $5,",
	"delta = $6, onprem_downloads = $7, time = $8",
	"WHERE id = $1",
}, " ")

var ActiveByPopularityQuery = strings.Join([]string{
	"SELECT e.id, e.name, e.display_name, e.icon, e.active, peak.total_installs",
	"FROM extensions e",
	"LEFT JOIN LATERAL (",
	"SELECT max(i.total_installs) AS total_installs FROM extension_installs i",
	"WHERE i.extension_id = e.id",
	") peak ON TRUE",
	"WHERE e.active",
	"ORDER BY peak.total_installs DESC NULLS LAST, e.name",
}, " ")
