package core

// Log field names shared by all components, {component}.{field} for
// component-specific fields.
const (
	FieldSource      = "source"
	FieldPort        = "port"
	FieldAddr        = "addr"
	FieldLength      = "len"
	FieldInterface   = "interface"
	FieldLinkType    = "link_type"
	FieldOffset      = "offset"
	FieldCaptureType = "capture_type"

	FieldRegion        = "region.name"
	FieldRegionHost    = "region.host"
	FieldRegionLatency = "region.latency_ms"
)
