package frame

// Command codes from spec.md §6 (stable subset of the full table).
const (
	CmdPing       uint8 = 0x01
	CmdPong       uint8 = 0x02
	CmdConnect    uint8 = 0x03
	CmdDisconnect uint8 = 0x04

	CmdListFiles   uint8 = 0x10
	CmdFileInfo    uint8 = 0x11
	CmdCreateDir   uint8 = 0x12
	CmdDeleteFile  uint8 = 0x13
	CmdRenameFile  uint8 = 0x14

	CmdUploadFile   uint8 = 0x20
	CmdDownloadFile uint8 = 0x21

	CmdUploadReq    uint8 = 0x30
	CmdUploadData   uint8 = 0x31
	CmdUploadEnd    uint8 = 0x32
	CmdDownloadReq  uint8 = 0x33
	CmdDownloadData uint8 = 0x34
	CmdDownloadEnd  uint8 = 0x35

	CmdSuccess  uint8 = 0x80
	CmdError    uint8 = 0x81
	CmdProgress uint8 = 0x82
)

// IsTerminal reports whether cmd is one of the two response classes that
// resolve a pending request (as opposed to PROGRESS, which doesn't).
func IsTerminal(cmd uint8) bool {
	return cmd == CmdSuccess || cmd == CmdError
}
