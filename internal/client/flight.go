package client

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// FlightClient uploads report records to a collector over Arrow Flight.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewFlightClient connects to the collector at addr. The connection is established lazily on
// the first call.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "dial flight collector %s", addr)
	}

	return &FlightClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
	}, nil
}

// DoPut streams record to the dataset path on the collector.
func (c *FlightClient) DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error {
	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return errors.Wrap(err, "open DoPut stream")
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{dataset},
	})

	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return c.callStatus(stream, errors.Wrap(err, "write record"))
	}
	if err := writer.Close(); err != nil {
		return c.callStatus(stream, errors.Wrap(err, "close record writer"))
	}
	if err := stream.CloseSend(); err != nil {
		return errors.Wrap(err, "close DoPut stream")
	}
	// drain acknowledgements until the collector finishes the call
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "DoPut")
		}
	}
}

// callStatus prefers the status the collector ended the call with over a local send error,
// which is usually just io.EOF.
func (c *FlightClient) callStatus(stream flight.FlightService_DoPutClient, sendErr error) error {
	if _, err := stream.Recv(); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "DoPut")
	}
	return sendErr
}

func (c *FlightClient) Close() error {
	return c.conn.Close()
}
