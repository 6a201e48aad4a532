package region

import (
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/shmregion/internal/logging"
)

var logger = logging.New("region")

// DebugTableDetail prints the table's occupied slots to w.
func DebugTableDetail(w io.Writer, t *Table) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	st := t.Stats()
	fmt.Fprintf(buf, "capacity:%d occupied:%d free:%d\n", st.Capacity, st.Occupied, st.Free)
	for _, s := range t.Snapshot() {
		fmt.Fprintf(buf, "slot:%d key:%d frame:%#x refs:%d\n", s.Index, s.Key, s.PhysAddr, s.Refs)
	}
	_, _ = buf.WriteTo(w)
}
