package frontdoor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/One-com/gone/log"
	"github.com/One-com/gone/metric"

	"github.com/One-com/gone/http/handlers/accesslog"
	"github.com/One-com/gone/http/rrwriter"
)

type meter interface {
	Measure(rrwriter.RecordingResponseWriter)
}

type statusMeter struct {
	test    func(code int) bool
	counter *metric.Counter
}

func (m *statusMeter) Measure(rec rrwriter.RecordingResponseWriter) {
	if m.test(rec.Status()) {
		m.counter.Inc(1)
	}
}

type sizeMeter struct {
	hist metric.Histogram
}

func (m *sizeMeter) Measure(rec rrwriter.RecordingResponseWriter) {
	m.hist.Sample(int64(rec.Size()))
}

var (
	exactCodeRe = regexp.MustCompile(`^\d\d\d$`)
	codeRangeRe = regexp.MustCompile(`^\d[xX]{2}$`)
)

// requestMetrics creates an accesslog.AuditFunction counting responses
// according to spec, a "," separated list like "2XX,404,5XX,size".
// Unknown entries are ignored. An empty spec gives a nil function.
func requestMetrics(prefix, spec string) accesslog.AuditFunction {

	var meters []meter

	for _, spc := range strings.Split(spec, ",") {
		spc = strings.TrimSpace(spc)
		switch {
		case spc == "size":
			meters = append(meters, &sizeMeter{hist: metric.RegisterHistogram(prefix + ".resp-size")})
		case exactCodeRe.MatchString(spc):
			code, _ := strconv.Atoi(spc)
			meters = append(meters, &statusMeter{
				test:    func(c int) bool { return c == code },
				counter: metric.RegisterCounter(prefix + ".code." + spc),
			})
		case codeRangeRe.MatchString(spc):
			base := int(spc[0]-'0') * 100
			meters = append(meters, &statusMeter{
				test:    func(c int) bool { return c >= base && c < base+100 },
				counter: metric.RegisterCounter(prefix + ".code." + strings.ToUpper(spc)),
			})
		case spc != "":
			log.WARN("Ignoring request metric", "spec", spc)
		}
	}

	if len(meters) == 0 {
		return nil
	}

	return accesslog.AuditFunction(func(rec rrwriter.RecordingResponseWriter) {
		for _, mt := range meters {
			mt.Measure(rec)
		}
	})
}
