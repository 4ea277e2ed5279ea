package client

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm/logging"
)

// bulkReader 分片读取大数据，前后各发送一次 CMD_FREE_DATA 释放设备缓冲
type bulkReader struct {
	t        Transport
	ip       string
	maxChunk int
	log      logging.Logger
	metrics  *metrics
}

// Read 返回完整数据，开头 4 字节为记录数。任一分片失败时丢弃已收数据
func (r *bulkReader) Read(ctx context.Context, selector []byte) ([]byte, error) {
	r.free(ctx, "before")
	defer r.free(ctx, "after")

	reply, err := r.t.SendRequest(ctx, zk.CMD_DATA_WRRQ, selector)
	if err != nil {
		return nil, err
	}
	switch reply.Command {
	case zk.CMD_DATA:
		r.metrics.bulkBytes.WithLabelValues(r.t.Kind().String()).Add(float64(len(reply.Payload)))
		return reply.Payload, nil
	case zk.CMD_ACK_OK, zk.CMD_PREPARE_DATA:
	default:
		return nil, nack(zk.CMD_DATA_WRRQ, r.ip, reply)
	}
	if len(reply.Payload) < 5 {
		return nil, zk.NewError(zk.KindMalformedFrame, "recv", zk.CMD_DATA_WRRQ, r.ip,
			fmt.Errorf("%w: size reply has %d bytes", zk.ErrorPacket, len(reply.Payload)))
	}
	total := int(binary.LittleEndian.Uint32(reply.Payload[1:5]))
	r.log.Debugf("[%-9s] %s declared %d bytes, chunk %d", "Bulk", r.t.Kind(), total, r.maxChunk)

	data := make([]byte, 0, total)
	req := make([]byte, 8)
	for len(data) < total {
		start := len(data)
		size := total - start
		if size > r.maxChunk {
			size = r.maxChunk
		}
		binary.LittleEndian.PutUint32(req[0:4], uint32(start))
		binary.LittleEndian.PutUint32(req[4:8], uint32(size))

		chunk, err := r.t.SendRequest(ctx, zk.CMD_DATA_RDY, req)
		if err != nil {
			return nil, err
		}
		if chunk.Command != zk.CMD_DATA {
			return nil, nack(zk.CMD_DATA_RDY, r.ip, chunk)
		}
		if len(chunk.Payload) != size {
			return nil, zk.NewError(zk.KindMalformedFrame, "recv", zk.CMD_DATA_RDY, r.ip,
				fmt.Errorf("%w: chunk at %d want %d bytes got %d, total %d",
					zk.ErrSizeMismatch, start, size, len(chunk.Payload), total))
		}
		data = append(data, chunk.Payload...)
	}
	r.metrics.bulkBytes.WithLabelValues(r.t.Kind().String()).Add(float64(total))
	return data, nil
}

func (r *bulkReader) free(ctx context.Context, stage string) {
	if _, err := r.t.SendRequest(ctx, zk.CMD_FREE_DATA, nil); err != nil {
		r.log.Warnf("[%-9s] CMD_FREE_DATA %s transfer: %v", "Bulk", stage, err)
	}
}
