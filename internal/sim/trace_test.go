package sim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"paperevents/internal/host"
)

func TestReadTrace(t *testing.T) {
	in := `
# two moves and a hit
{"op":"move","dest":"0x14","item":"0x0F","count":2}
{"op":"MOVE","source":20,"item":"0x0F","count":1}

{"op":"hit","target":"0x30","cause":"0x40","source":"0x200","flags":["power","Blocked"],"tick":9}
{"op":"save","slot":"a"}
{"op":"wait"}
`
	steps, err := ReadTrace(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, steps, 5)

	require.Equal(t, OpMove, steps[0].Op)
	require.Equal(t, host.FormID(0x14), steps[0].Dest.Form())
	require.Equal(t, int32(2), steps[0].Count)
	require.Equal(t, 3, steps[0].Line)
	require.Equal(t, OpMove, steps[1].Op)
	require.Equal(t, host.FormID(20), steps[1].Source.Form())

	ev, err := steps[2].HitEvent()
	require.NoError(t, err)
	require.Equal(t, host.FormID(0x30), ev.Target)
	require.True(t, ev.Flags.Has(host.HitPowerAttack))
	require.True(t, ev.Flags.Has(host.HitBlocked))
	require.False(t, ev.Flags.Has(host.HitSneakAttack))
	require.Equal(t, uint64(9), ev.Tick)

	require.Equal(t, "a", steps[3].Slot)
}

func TestReadTraceErrors(t *testing.T) {
	for name, in := range map[string]string{
		"bad json": `{"op":`,
		"bad op":   `{"op":"teleport"}`,
		"bad flag": `{"op":"hit","flags":["spin"]}`,
		"bad id":   `{"op":"move","item":"0xZZ"}`,
	} {
		_, err := ReadTrace(strings.NewReader(in))
		require.Error(t, err, name)
	}
}
