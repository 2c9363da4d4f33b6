package tftp

import (
	"log/slog"
	"net"
	"time"

	"github.com/llfl/finiky/internal/metrics"
)

// chunkData splits data into blksize-sized blocks. A final short block
// (0 to blksize-1 bytes) always terminates the sequence, per RFC 1350 —
// including an explicit empty block when len(data) is an exact multiple
// of blksize (or zero).
func chunkData(data []byte, blksize int) [][]byte {
	var blocks [][]byte
	for i := 0; i < len(data); i += blksize {
		end := i + blksize
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, data[i:end])
	}
	if len(data) == 0 || len(data)%blksize == 0 {
		blocks = append(blocks, []byte{})
	}
	return blocks
}

// serveTransfer runs the full lock-step DATA/ACK exchange over conn, which
// must already be connected to the client's transaction address. It owns
// conn for the duration of the transfer but does not close it.
func serveTransfer(conn *net.UDPConn, filename string, data []byte, blksize int, timeout time.Duration, oack Options, logger *slog.Logger) {
	metrics.TFTPTransfersStarted.Inc()
	metrics.TFTPActiveTransfers.Inc()
	defer metrics.TFTPActiveTransfers.Dec()

	if len(oack) > 0 {
		if !exchangeBlock(conn, EncodeOACK(oack), 0, timeout) {
			metrics.TFTPTransfersFailed.WithLabelValues("oack_timeout").Inc()
			logger.Warn("TFTP transfer aborted: OACK not acknowledged", "file", filename)
			return
		}
	}

	blocks := chunkData(data, blksize)
	block := uint16(1)
	for _, payload := range blocks {
		if !exchangeBlock(conn, EncodeData(block, payload), block, timeout) {
			metrics.TFTPTransfersFailed.WithLabelValues("timeout").Inc()
			logger.Warn("TFTP transfer aborted: retries exhausted", "file", filename, "block", block)
			return
		}
		metrics.TFTPBlocksSent.Inc()
		block++ // wraps through 0 for files exceeding 65535 blocks
	}

	metrics.TFTPTransfersCompleted.Inc()
	logger.Info("TFTP transfer completed", "file", filename, "bytes", len(data), "blocks", len(blocks))
}

// exchangeBlock sends packet and waits for an ACK carrying wantBlock,
// retransmitting on timeout up to MaxRetries times. ACKs for any other
// block number are discarded without resetting the deadline or
// retriggering a send (Sorcerer's Apprentice mitigation, RFC 1350 §11).
func exchangeBlock(conn *net.UDPConn, packet []byte, wantBlock uint16, timeout time.Duration) bool {
	buf := make([]byte, MaxDatagramSize)

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.TFTPRetransmits.Inc()
		}
		if _, err := conn.Write(packet); err != nil {
			return false
		}
		conn.SetReadDeadline(time.Now().Add(timeout))

		for {
			n, err := conn.Read(buf)
			if err != nil {
				break // deadline exceeded (or fatal read error) - move to next attempt
			}
			block, err := DecodeACK(buf[:n])
			if err != nil {
				continue // not a well-formed ACK, keep waiting on this deadline
			}
			if block != wantBlock {
				continue // duplicate/stale ACK, ignore per RFC 1350 §11
			}
			return true
		}
	}
	return false
}
