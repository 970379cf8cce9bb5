// Package all registers every ledger backend with the factory. Blank-import
// it from main so the config alone selects the backend.
package all

import (
	_ "shopexport/internal/ledger/mssql"
	_ "shopexport/internal/ledger/postgres"
	_ "shopexport/internal/ledger/sqlite"
)
