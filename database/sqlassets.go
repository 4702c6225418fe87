package sqlassets

import _ "embed"

//go:embed schema/core/lots.sql
var LotsSQL string

//go:embed schema/core/zones.sql
var ZonesSQL string

//go:embed schema/core/stays.sql
var StaysSQL string

//go:embed schema/core/sensor_readings.sql
var SensorReadingsSQL string

//go:embed schema/core/qr_snapshots.sql
var QrSnapshotsSQL string

//go:embed schema/core/lot_field_templates.sql
var LotFieldTemplatesSQL string
