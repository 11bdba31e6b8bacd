package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecconet-fw/ecconet/fs"
	"github.com/ecconet-fw/ecconet/proto"
)

// mapStore is a minimal in-memory FileStore, sufficient for exercising the
// ftp package's request/response logic independently of the fs package's
// own (separately tested) flash layout.
type mapStore struct {
	files map[string]storedFile
}

type storedFile struct {
	data      []byte
	checksum  uint16
	timestamp uint32
}

func newMapStore() *mapStore { return &mapStore{files: map[string]storedFile{}} }

func (s *mapStore) Stat(name string) (proto.FileInfo, error) {
	f, ok := s.files[name]
	if !ok {
		return proto.FileInfo{}, fs.ErrFileNotFound
	}
	return proto.FileInfo{Name: name, Size: uint32(len(f.data)), Checksum: f.checksum, Timestamp: f.timestamp}, nil
}

func (s *mapStore) Read(name string, offset uint32, buf []byte) (int, error) {
	f, ok := s.files[name]
	if !ok {
		return 0, fs.ErrFileNotFound
	}
	if offset >= uint32(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (s *mapStore) Write(name string, data []byte, timestamp uint32) error {
	s.files[name] = storedFile{data: append([]byte{}, data...), checksum: proto.CRC16(data), timestamp: timestamp}
	return nil
}

func (s *mapStore) Delete(name string) error {
	if _, ok := s.files[name]; !ok {
		return fs.ErrFileNotFound
	}
	delete(s.files, name)
	return nil
}

type fakeGUID [4]uint32

func (g fakeGUID) GUID() [4]uint32 { return g }

type fakeFilter struct {
	active bool
	src    uint8
}

func (f *fakeFilter) SetSenderFilter(src uint8, nowMS uint32) { f.active = true; f.src = src }
func (f *fakeFilter) ClearSenderFilter()                      { f.active = false }

// fakeSender builds the same keyHi||keyLo||payload body the real
// receiver hands to HandleClientMessage/HandleServerMessage, and delivers
// it synchronously to whatever deliver is wired to — the test's peer node.
type fakeSender struct {
	dest    uint8
	key     proto.TokenKey
	body    []byte
	deliver func(dest uint8, body []byte)
	clock   *uint32
}

func (s *fakeSender) Start(dest uint8, key proto.TokenKey, eventIdx uint8) error {
	s.dest, s.key, s.body = dest, key, nil
	return nil
}
func (s *fakeSender) AddByte(b byte) error { s.body = append(s.body, b); return nil }
func (s *fakeSender) AddU16(v uint16) error {
	s.body = append(s.body, byte(v>>8), byte(v))
	return nil
}
func (s *fakeSender) AddU32(v uint32) error {
	s.body = append(s.body, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	return nil
}
func (s *fakeSender) AddString(str string) error {
	s.body = append(s.body, []byte(str)...)
	s.body = append(s.body, 0)
	return nil
}
func (s *fakeSender) Finish() error {
	full := append([]byte{byte(s.key >> 8), byte(s.key)}, s.body...)
	s.deliver(s.dest, full)
	return nil
}

// linkedNodes wires a client Node and a server Node together so that every
// message one sends is synchronously delivered to the other's matching
// Handle*Message, as if transmitter/receiver framing were instantaneous.
func linkedNodes(clientAddr, serverAddr uint8, store FileStore, guid [4]uint32) (client, server *Node, clock *uint32) {
	clock = new(uint32)
	clientSender := &fakeSender{clock: clock}
	serverSender := &fakeSender{clock: clock}

	client = New(clientAddr, nil, fakeGUID(guid), clientSender, &fakeFilter{})
	server = New(serverAddr, store, fakeGUID(guid), serverSender, &fakeFilter{})

	clientSender.deliver = func(dest uint8, body []byte) { server.HandleServerMessage(clientAddr, body, *clock) }
	serverSender.deliver = func(dest uint8, body []byte) { client.HandleClientMessage(serverAddr, body, *clock) }
	return client, server, clock
}

func scenarioEData() []byte {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

// TestScenarioEFTPRead exercises spec.md's Scenario E: client reads
// abc.txt (300 bytes) from the server in two segments (256 + 44), and the
// transfer completes with a checksum match.
func TestScenarioEFTPRead(t *testing.T) {
	store := newMapStore()
	data := scenarioEData()
	require.NoError(t, store.Write("abc.txt", data, 1000))

	client, _, clock := linkedNodes(10, 5, store, [4]uint32{1, 2, 3, 4})
	*clock = 0

	var result Result
	got := false
	err := client.ReadFile(5, "abc.txt", 0, func(r Result) { result = r; got = true })
	require.NoError(t, err)

	require.True(t, got, "callback must fire synchronously once the transfer completes")
	assert.Equal(t, proto.KeyResponseFileReadComplete, result.Status)
	assert.NoError(t, result.Err)
	assert.Equal(t, data, result.Data)
}

func TestFileInfoReportsGUIDForProductInf(t *testing.T) {
	store := newMapStore()
	require.NoError(t, store.Write("product.inf", make([]byte, 92), 5))
	guid := [4]uint32{0x11, 0x22, 0x33, 0x44}

	client, server, clock := linkedNodes(10, 5, store, guid)
	*clock = 0

	var result Result
	err := client.FileInfo(5, "product.inf", 0, func(r Result) { result = r })
	require.NoError(t, err)
	assert.Equal(t, proto.KeyResponseFileInfo, result.Status)
	assert.Equal(t, uint32(92), result.Info.Size)

	// The server's FileInfo reply is size(4) || checksum(2) || timestamp(4)
	// || GUID(16) for product.inf.
	resp := server.sender.(*fakeSender).body
	require.Len(t, resp, 4+2+4+16)
	assert.Equal(t, []byte{0, 0, 0, 0x11, 0, 0, 0, 0x22, 0, 0, 0, 0x33, 0, 0, 0, 0x44}, resp[10:])
}

func TestFileInfoNotFoundReportsReason(t *testing.T) {
	store := newMapStore()
	client, _, clock := linkedNodes(10, 5, store, [4]uint32{1, 2, 3, 4})
	*clock = 0

	var result Result
	err := client.FileInfo(5, "missing.txt", 0, func(r Result) { result = r })
	require.NoError(t, err)
	assert.Equal(t, proto.KeyResponseFtpClientError, result.Status)
	assert.ErrorIs(t, result.Err, ReasonNotFound)
}

func TestWriteFileRoundTrip(t *testing.T) {
	store := newMapStore()
	guid := [4]uint32{0xAA, 0xBB, 0xCC, 0xDD}
	client, server, clock := linkedNodes(10, 5, store, guid)
	*clock = 0

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(300 - i)
	}

	var result Result
	err := client.WriteFile(5, "new.dat", data, 42, 0, func(r Result) { result = r })
	require.NoError(t, err)
	assert.Equal(t, proto.KeyResponseFileWriteComplete, result.Status)

	info, statErr := server.store.Stat("new.dat")
	require.NoError(t, statErr)
	assert.Equal(t, uint32(300), info.Size)
	assert.Equal(t, proto.CRC16(data), info.Checksum)
}

func TestWriteFileWrongAccessCodeDenied(t *testing.T) {
	store := newMapStore()
	client, server, clock := linkedNodes(10, 5, store, [4]uint32{1, 2, 3, 4})
	*clock = 0
	// Server believes a different GUID, so the client's access code never matches.
	server.guid = fakeGUID{9, 9, 9, 9}

	var result Result
	err := client.WriteFile(5, "x.y", []byte{1, 2, 3}, 0, 0, func(r Result) { result = r })
	require.NoError(t, err)
	assert.Equal(t, proto.KeyResponseFtpClientError, result.Status)
	assert.ErrorIs(t, result.Err, ReasonAccessDenied)
}

func TestDeleteFile(t *testing.T) {
	store := newMapStore()
	guid := [4]uint32{1, 2, 3, 4}
	require.NoError(t, store.Write("gone.txt", []byte{1}, 0))
	client, server, clock := linkedNodes(10, 5, store, guid)
	*clock = 0

	var result Result
	err := client.DeleteFile(5, "gone.txt", 0, func(r Result) { result = r })
	require.NoError(t, err)
	assert.Equal(t, proto.KeyResponseFileDeleted, result.Status)

	_, statErr := server.store.Stat("gone.txt")
	assert.ErrorIs(t, statErr, fs.ErrFileNotFound)
}

func TestClientRefusesNewRequestWhileServerActive(t *testing.T) {
	store := newMapStore()
	guid := [4]uint32{1, 2, 3, 4}
	node := New(10, store, fakeGUID(guid), &fakeSender{}, &fakeFilter{})
	node.srvState = serverActive

	err := node.FileInfo(5, "a.b", 0, func(Result) {})
	assert.ErrorIs(t, err, ErrServerBusy)
}

func TestServerRejectsNewStartWhileClientActive(t *testing.T) {
	store := newMapStore()
	guid := [4]uint32{1, 2, 3, 4}
	node := New(10, store, fakeGUID(guid), &fakeSender{}, &fakeFilter{})
	node.cliState = clientAwaiting

	node.HandleServerMessage(20, []byte{byte(proto.KeyRequestFileInfo >> 8), byte(proto.KeyRequestFileInfo), 'a', 0}, 0)
	assert.Equal(t, serverIdle, node.srvState, "server must not start a transaction while this node's client half is active")
}

func TestAccessCodeFormula(t *testing.T) {
	guid := [4]uint32{0xEE4CAD97, 0x331CE9EC, 0x9E957DBC, 0xA4A69FE5}
	g0, g1, g2, g3 := guid[0], guid[1], guid[2], guid[3]
	want := ((g0 ^ g3) >> ((g0 >> 3) & 3)) ^ g2 ^ 0x5EB9417D ^ g1
	assert.Equal(t, want, AccessCode(guid))
}

func TestReasonErrorMessages(t *testing.T) {
	assert.Contains(t, ReasonAccessDenied.Error(), "access denied")
	assert.Contains(t, Reason(99).Error(), "reason")
}
