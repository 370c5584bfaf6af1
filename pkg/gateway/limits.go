package gateway

const (
	maxJobStreamClients = 128
	maxShellClients     = 8

	maxWSReadBytesJobStream = 64 << 10
	maxWSReadBytesShell     = 8 << 20

	maxBodyBytesTiny  int64 = 64 << 10
	maxBodyBytesSmall int64 = 1 << 20
)
