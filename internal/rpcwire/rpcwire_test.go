package rpcwire

import (
	"net"
	"net/rpc"
	"testing"
	"time"
)

type Echo int

type EchoArgs struct{ Text string }
type EchoReply struct{ Text string }

func (Echo) Call(args EchoArgs, reply *EchoReply) error {
	reply.Text = args.Text
	return nil
}

func TestGzipCodecRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := rpc.NewServer()
	if err := srv.RegisterName("Echo", new(Echo)); err != nil {
		t.Fatal(err)
	}
	go Serve(ln, srv)

	client, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	var reply EchoReply
	call := client.Go("Echo.Call", EchoArgs{Text: "hello"}, &reply, nil)
	select {
	case <-call.Done:
		if call.Error != nil {
			t.Fatalf("call failed: %v", call.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rpc call timed out")
	}

	if reply.Text != "hello" {
		t.Errorf("expected 'hello', got %q", reply.Text)
	}
}
