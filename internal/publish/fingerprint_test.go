package publish

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresWhitespace(t *testing.T) {
	t.Parallel()

	a := Fingerprint("Yunusobod - 5", "2/3/9", "+998 90 123 45 67")
	b := Fingerprint("Yunusobod-5", " 2 / 3 / 9 ", "+998901234567")
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	t.Parallel()

	base := Fingerprint("Minor", "2/3/9", "901234567")
	require.NotEqual(t, base, Fingerprint("Minor", "2/4/9", "901234567"))
	require.NotEqual(t, base, Fingerprint("Minor", "2/3/9", "901234568"))
	require.NotEqual(t, base, Fingerprint("Kashgar", "2/3/9", "901234567"))
	require.NotEqual(t, Fingerprint("a_b", "c", "9"), Fingerprint("a", "b_c", "9"))
	require.NotEqual(t, Fingerprint("a1", "2", "9"), Fingerprint("a", "12", "9"))
}

func TestNormalizeField(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Ц-1", NormalizeField(" Ц -\t1\n"))
	require.Equal(t, "", NormalizeField("   "))
}
