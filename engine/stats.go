package engine

import (
	"bufio"
	"strconv"
	"strings"
	"time"

	"github.com/tunnelmesh/wgagentd/wgkey"
)

// parseIpcStatus parses the text returned by device.Device.IpcGet into a
// DeviceStats snapshot. The format is a flat key=value stream, one pair
// per line, where each "public_key=" line starts a new peer stanza.
func parseIpcStatus(raw string) DeviceStats {
	var stats DeviceStats
	var cur *PeerSession
	var secs, nsecs int64

	flush := func() {
		if cur == nil {
			return
		}
		if secs > 0 {
			cur.LastHandshake = time.Unix(secs, nsecs)
			cur.HasHandshake = true
		}
		stats.Peers = append(stats.Peers, *cur)
		stats.TxBytes += cur.TxBytes
		stats.RxBytes += cur.RxBytes
		cur = nil
		secs, nsecs = 0, 0
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "public_key":
			flush()
			pub, err := wgkey.ParsePublicKeyHex(value)
			if err != nil {
				continue
			}
			cur = &PeerSession{PublicKey: pub}
		case "endpoint":
			if cur != nil {
				cur.Endpoint = parseEndpointLoose(value)
			}
		case "tx_bytes":
			if cur != nil {
				cur.TxBytes, _ = strconv.ParseUint(value, 10, 64)
			}
		case "rx_bytes":
			if cur != nil {
				cur.RxBytes, _ = strconv.ParseUint(value, 10, 64)
			}
		case "last_handshake_time_sec":
			secs, _ = strconv.ParseInt(value, 10, 64)
		case "last_handshake_time_nsec":
			nsecs, _ = strconv.ParseInt(value, 10, 64)
		}
	}
	flush()

	stats.ActiveWithin = 3 * 25 * time.Second
	return stats
}

func parseEndpointLoose(s string) wgkey.Endpoint {
	ep, err := wgkey.ParseEndpoint(s)
	if err != nil {
		return wgkey.Endpoint{}
	}
	return ep
}
