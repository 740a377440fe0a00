package protocol_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NekoTensor/dhtshare/internal/kademlia"
	"github.com/NekoTensor/dhtshare/internal/protocol"
)

func sampleMessage() *protocol.Message {
	return &protocol.Message{
		RequestID:  protocol.NewRequestID(),
		SenderID:   kademlia.NewRandomNodeID(),
		SenderAddr: "127.0.0.1:7350",
		Kind:       protocol.KindFindValue,
		Key:        kademlia.KeyID([]byte("some-content")),
		Value:      []byte("payload"),
		Nodes: []protocol.PeerInfo{
			{ID: kademlia.NewRandomNodeID(), Address: "10.0.0.1:7350"},
			{ID: kademlia.NewRandomNodeID(), Address: "10.0.0.2:7350"},
		},
	}
}

func TestEncodeDecodeLossless(t *testing.T) {
	msg := sampleMessage()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)

	got, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.RequestID, got.RequestID)
	assert.Equal(t, msg.SenderID, got.SenderID)
	assert.Equal(t, msg.SenderAddr, got.SenderAddr)
	assert.Equal(t, msg.Kind, got.Kind)
	assert.Equal(t, msg.Key, got.Key)
	assert.Equal(t, msg.Value, got.Value)
	assert.Equal(t, msg.Nodes, got.Nodes)
}

func TestDecodeGarbageIsProtocolError(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{},
		{0xc1}, // reserved msgpack byte
		[]byte("definitely not msgpack structured data"),
	} {
		_, err := protocol.Decode(data)
		require.Error(t, err)
		assert.True(t, errors.Is(err, kademlia.ErrMalformedMessage), "input %v", data)
	}
}

func TestDecodeRejectsMissingEnvelopeFields(t *testing.T) {
	msg := sampleMessage()
	msg.RequestID = ""
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	_, err = protocol.Decode(data)
	assert.True(t, errors.Is(err, kademlia.ErrMalformedMessage))

	msg = sampleMessage()
	msg.SenderID = kademlia.NodeID{}
	data, err = protocol.Encode(msg)
	require.NoError(t, err)
	_, err = protocol.Decode(data)
	assert.True(t, errors.Is(err, kademlia.ErrMalformedMessage))
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	msg := sampleMessage()
	msg.Kind = protocol.Kind(99)
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	_, err = protocol.Decode(data)
	assert.True(t, errors.Is(err, kademlia.ErrMalformedMessage))
}

func TestEncodeEnforcesSizeBound(t *testing.T) {
	msg := sampleMessage()
	msg.Value = make([]byte, protocol.MaxMessageSize+1)
	_, err := protocol.Encode(msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kademlia.ErrMalformedMessage))
}

func TestResponseCorrelatesRequest(t *testing.T) {
	req := sampleMessage()
	self := kademlia.NewContact(kademlia.NewRandomNodeID(), "127.0.0.1:7999")
	resp := req.Response(protocol.KindFoundNodes, self)

	assert.Equal(t, req.RequestID, resp.RequestID)
	assert.Equal(t, self.ID, resp.SenderID)
	assert.Equal(t, self.Address, resp.SenderAddr)
	assert.Equal(t, protocol.KindFoundNodes, resp.Kind)
	assert.True(t, resp.Kind.IsResponse())
	assert.False(t, req.Kind.IsResponse())
}

func TestContactsConversionRoundTrip(t *testing.T) {
	contacts := []kademlia.Contact{
		kademlia.NewContact(kademlia.NewRandomNodeID(), "10.0.0.1:7350"),
		kademlia.NewContact(kademlia.NewRandomNodeID(), "10.0.0.2:7350"),
	}
	msg := &protocol.Message{Nodes: protocol.FromContacts(contacts)}
	got := msg.Contacts()
	require.Len(t, got, 2)
	for i := range contacts {
		assert.Equal(t, contacts[i].ID, got[i].ID)
		assert.Equal(t, contacts[i].Address, got[i].Address)
	}
}
