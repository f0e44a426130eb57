package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorgate/internal/pkg"
	"sensorgate/internal/sensor"
)

func TestCompileCustom(t *testing.T) {
	spec, err := CompileCustom(pkg.CustomAlertConfig{
		Name:     "cabinet_temp_low",
		Category: "lv",
		Probe:    "HasThreshold && TempC < Threshold",
	})
	require.NoError(t, err)

	conf := map[string]pkg.AlertConf{"cabinet_temp_low": {Params: pkg.AlertParams{Temp: temp(5)}}}
	cabinet := NewContext("rack-0_lv-1", conf)
	transformer := NewContext("rack-0_tr-1", conf)

	assert.True(t, spec.Valid(cabinet, snapOf(sensor.StatusOK, 2)))
	assert.True(t, spec.Probe(cabinet, snapOf(sensor.StatusOK, 2)))
	assert.False(t, spec.Probe(cabinet, snapOf(sensor.StatusOK, 5)))
	assert.False(t, spec.Valid(transformer, snapOf(sensor.StatusOK, 2)))
	assert.False(t, spec.Valid(cabinet, snapOf(sensor.StatusError, 850)))

	// 没有阈值时不触发
	assert.False(t, spec.Probe(NewContext("rack-0_lv-1", nil), snapOf(sensor.StatusOK, 2)))
}

func TestCompileCustom_ValidExpr(t *testing.T) {
	spec, err := CompileCustom(pkg.CustomAlertConfig{
		Name:  "rack0_hot",
		Valid: `Rack == "rack-0" && Slot >= 1`,
		Probe: "TempC > 45 || Faulted",
	})
	require.NoError(t, err)

	assert.True(t, spec.Valid(NewContext("rack-0_tr-1", nil), snapOf(sensor.StatusOK, 50)))
	assert.False(t, spec.Valid(NewContext("rack-1_tr-1", nil), snapOf(sensor.StatusOK, 50)))
	assert.False(t, spec.Valid(NewContext("rack-0_tr", nil), snapOf(sensor.StatusOK, 50)))
	assert.True(t, spec.Probe(NewContext("rack-0_tr-1", nil), snapOf(sensor.StatusError, 30)))
}

func TestCompileCustom_Errors(t *testing.T) {
	_, err := CompileCustom(pkg.CustomAlertConfig{Probe: "true"})
	assert.Error(t, err, "缺少 name")

	_, err = CompileCustom(pkg.CustomAlertConfig{Name: "x"})
	assert.Error(t, err, "缺少 probe")

	_, err = CompileCustom(pkg.CustomAlertConfig{Name: "x", Category: "mv", Probe: "true"})
	assert.Error(t, err, "类别非法")

	_, err = CompileCustom(pkg.CustomAlertConfig{Name: "x", Probe: "TempC + 1"})
	assert.Error(t, err, "非 bool 表达式")

	_, err = CompileCustom(pkg.CustomAlertConfig{Name: "x", Probe: "Unknown > 1"})
	assert.Error(t, err, "未知变量")

	_, err = CompileCustom(pkg.CustomAlertConfig{Name: "x", Valid: "1", Probe: "true"})
	assert.Error(t, err)
}

func TestRegisterCustom(t *testing.T) {
	r := NewRegistry()
	RegisterSensorSpecs(r)

	err := RegisterCustom(r, []pkg.CustomAlertConfig{
		{Name: "ok_one", Probe: "TempC > 10"},
		{Name: "bad", Probe: "TempC +"},
	})
	assert.Error(t, err)
	_, ok := r.Get(SpecCategory, "ok_one")
	assert.False(t, ok, "任一失败时不注册")

	require.NoError(t, RegisterCustom(r, []pkg.CustomAlertConfig{{Name: "ok_one", Probe: "TempC > 10"}}))
	signals := r.Evaluate([]string{SpecCategory}, NewContext("rack-0_mv-1", nil), snapOf(sensor.StatusOK, 11))
	require.Len(t, signals, 1)
	assert.Equal(t, "ok_one", signals[0].Name)
}
