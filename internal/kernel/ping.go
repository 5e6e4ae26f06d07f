package kernel

import (
	"context"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

func (k *Kernel) ping(_ context.Context, req *Request, res *Response) {
	k.log(req, envelope.MessagePong)
	res.next(req, envelope.MessagePong, nil)
}
