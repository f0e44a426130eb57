package mock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestRegisterBank_Serialize(t *testing.T) {
	bank := NewRegisterBank([4]uint16{300, 310, 320, 330})
	assert.Equal(t, []byte{0x01, 0x2C, 0x01, 0x36, 0x01, 0x40, 0x01, 0x4A}, bank.Serialize())
}

func TestRegisterBank_HandleRead(t *testing.T) {
	bank := NewRegisterBank([4]uint16{300, 310, 320, 330})

	tests := []struct {
		name string
		req  ReadRequest
		want []byte
	}{
		{"first register", ReadRequest{Address: 2, Quantity: 1}, []byte{0x01, 0x2C}},
		{"second register", ReadRequest{Address: 3, Quantity: 1}, []byte{0x01, 0x36}},
		{"two registers", ReadRequest{Address: 4, Quantity: 2}, []byte{0x01, 0x40, 0x01, 0x4A}},
		{"clamped to buffer", ReadRequest{Address: 5, Quantity: 3}, []byte{0x01, 0x4A}},
		{"whole bank", ReadRequest{Address: 2, Quantity: 4}, bank.Serialize()},
		{"below range", ReadRequest{Address: 1, Quantity: 1}, []byte{}},
		{"above range", ReadRequest{Address: 6, Quantity: 1}, []byte{}},
		{"address zero", ReadRequest{Address: 0, Quantity: 4}, []byte{}},
		{"zero quantity", ReadRequest{Address: 2, Quantity: 0}, []byte{}},
		{"negative quantity", ReadRequest{Address: 2, Quantity: -1}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bank.HandleRead(tt.req))
		})
	}
}

// 每个有效地址读 1 个寄存器得到的就是该寄存器的值
func TestRegisterBank_AddressDecode(t *testing.T) {
	values := [4]uint16{399, 300, 8500, 345}
	bank := NewRegisterBank(values)
	for i, v := range values {
		got := bank.HandleRead(ReadRequest{Address: BaseAddress + i, Quantity: 1})
		require.Len(t, got, 2)
		assert.Equal(t, v, binary.BigEndian.Uint16(got))
	}
}

func TestRegisterBank_ReadDoesNotMutate(t *testing.T) {
	bank := NewRegisterBank([4]uint16{300, 310, 320, 330})
	out := bank.HandleRead(ReadRequest{Address: 2, Quantity: 4})
	out[0] = 0xFF
	assert.Equal(t, [4]uint16{300, 310, 320, 330}, bank.Values())
}

func TestRegisterBank_Reset(t *testing.T) {
	bank, err := Generate(false)
	require.NoError(t, err)
	initial := bank.Values()

	assert.Equal(t, initial, bank.Reset())
	assert.Equal(t, initial, bank.Reset(), "Reset 应当是幂等的")
	assert.Equal(t, initial, bank.Values())
}

func TestGenerate(t *testing.T) {
	for i := 0; i < 50; i++ {
		bank, err := Generate(false)
		require.NoError(t, err)
		for _, v := range bank.Values() {
			assert.GreaterOrEqual(t, v, uint16(300))
			assert.LessOrEqual(t, v, uint16(399))
		}
	}
}

func TestGenerate_Fault(t *testing.T) {
	bank, err := Generate(true)
	require.NoError(t, err)
	assert.Equal(t, [4]uint16{8500, 8500, 8500, 8500}, bank.Values())
}

func TestGenerateFrom_Bounds(t *testing.T) {
	low, err := generateFrom(bytes.NewReader(make([]byte, 24)), false)
	require.NoError(t, err)
	assert.Equal(t, [4]uint16{300, 300, 300, 300}, low.Values())

	// 全 0xFF 舍入后为 1.00
	high, err := generateFrom(bytes.NewReader(bytes.Repeat([]byte{0xFF}, 24)), false)
	require.NoError(t, err)
	assert.Equal(t, [4]uint16{399, 399, 399, 399}, high.Values())
}

func TestRandomFraction_Rounding(t *testing.T) {
	cases := []struct {
		name  string
		bytes []byte
		want  float64
		value uint16
	}{
		{"恰好 0.125 向上进位", []byte{0x20, 0, 0, 0, 0, 0}, 0.13, 313},
		{"略小于 0.285", []byte{0x48, 0xf5, 0xc2, 0x8f, 0x5c, 0x28}, 0.28, 328},
		// 0.29*100 在浮点下为 28.999..., 取整为 28
		{"略大于 0.285", []byte{0x48, 0xf5, 0xc2, 0x8f, 0x5c, 0x29}, 0.29, 328},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := randomFraction(bytes.NewReader(tc.bytes))
			require.NoError(t, err)
			assert.Equal(t, tc.want, r)

			bank, err := generateFrom(bytes.NewReader(bytes.Repeat(tc.bytes, RegisterCount)), false)
			require.NoError(t, err)
			assert.Equal(t, tc.value, bank.Values()[0])
		})
	}
}

func TestGenerateFrom_ReaderError(t *testing.T) {
	_, err := generateFrom(failingReader{}, false)
	assert.Error(t, err)

	// 故障注入不消耗随机数
	bank, err := generateFrom(failingReader{}, true)
	require.NoError(t, err)
	assert.Equal(t, FaultSentinel, bank.Values()[0])
}
