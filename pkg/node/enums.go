package node

// Control service commands.
const (
	CmdIdentify uint16 = 0x0081
	CmdReset    uint16 = 0x0082
)

// Control service registers. All are read-only.
const (
	RegDescription     uint16 = 0x0180
	RegProductID       uint16 = 0x0181
	RegFirmwareVersion uint16 = 0x0185
	RegUptime          uint16 = 0x0186
)
