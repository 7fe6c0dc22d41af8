package connectors

const (
	TopicConnStatus      = "conn.status"
	TopicChannels        = "device.channels"
	TopicDeviceStatus    = "device.status"
	TopicOverrideExpired = "device.override_expired"
	TopicFault           = "device.fault"
	TopicRawLineIn       = "raw.line.in"
	TopicRawLineOut      = "raw.line.out"
)
