package session

import (
	"strings"
	"unicode"

	"github.com/t184256/transcriber-go/internal/protocol"
	"github.com/t184256/transcriber-go/internal/transcribe"
)

// Reconcile implements the two-stroke reconciler. Call it only when the
// just-emitted Transcription had at least two complete segments and the
// session is not finalising. complete is that Transcription's Complete
// slice. A non-nil error here is always KindEngineFailure, logged by the
// caller but never closing the session.
func (s *Session) Reconcile(complete []protocol.Segment) (*protocol.AdvanceSuggestion, error) {
	if len(complete) < 2 {
		return nil, nil
	}
	secondToLast := complete[len(complete)-2]
	last := complete[len(complete)-1]

	fromCS := secondToLast.EndCS
	advanceCS := s.timeline.AdvanceCS()
	bufStart := fromCS - advanceCS
	if bufStart < 0 {
		bufStart = 0
	}
	buf := s.timeline.Buffer()
	sampleStart := bufStart * 160
	if sampleStart > int64(len(buf)) {
		sampleStart = int64(len(buf))
	}
	window := buf[sampleStart:]

	opts := s.options()
	opts.SingleSegment = false
	req := transcribe.Request{
		PCM:          window,
		AdvanceCS:    fromCS,
		CurrentEndCS: s.timeline.CurrentEndCS(),
		IsFinal:      false,
		NoContext:    true,
	}
	// The re-transcription pass runs with no initial-timestamp ceiling.
	opts.MaxInitialTS = 0
	opts.NoInitialTSCeiling = true

	res, err := transcribe.Run(s.engineCtx, s.tokenEOT, s.timeline, opts, req)
	if err != nil {
		return nil, newError(KindEngineFailure, "reconcile: %w", err)
	}
	if res == nil {
		return nil, nil
	}

	var fresh []protocol.Segment
	fresh = append(fresh, res.Complete...)
	if res.Incomplete != nil {
		fresh = append(fresh, *res.Incomplete)
	}

	exactMatch, nMatching := compareSegments(last, fresh)

	return &protocol.AdvanceSuggestion{
		AdvanceCS:           advanceCS,
		TimestampCS:         last.EndCS,
		Segments:            fresh,
		OriginalLastSegment: last,
		ExactMatch:          exactMatch,
		NMatchingTokens:     nMatching,
	}, nil
}

// compareSegments compares the originally emitted last segment against the
// freshly re-transcribed window. exactMatch compares only the first
// re-transcribed segment's text (normalised: letters, digits, and
// whitespace only, lowercased) against the original — a re-pass that
// splits into further trailing segments doesn't invalidate a perfect
// leading match. nMatchingTokens instead flattens tokens across every
// re-transcribed segment and counts how many leading tokens still match.
func compareSegments(original protocol.Segment, retranscribed []protocol.Segment) (exactMatch bool, nMatchingTokens int) {
	var firstText string
	var rebuiltTokens []protocol.Token
	for i, seg := range retranscribed {
		if i == 0 {
			firstText = seg.Text
		}
		rebuiltTokens = append(rebuiltTokens, seg.Tokens...)
	}

	normOriginal := normalizeForComparison(original.Text)
	normFirst := normalizeForComparison(firstText)
	exactMatch = normOriginal != "" && normOriginal == normFirst

	origTokenTexts := normalizedTokenTexts(original.Tokens)
	retransTokenTexts := normalizedTokenTexts(rebuiltTokens)
	n := 0
	for n < len(origTokenTexts) && n < len(retransTokenTexts) && origTokenTexts[n] == retransTokenTexts[n] {
		n++
	}
	return exactMatch, n
}

// normalizeForComparison trims, strips to alphanumerics and whitespace, and
// lowercases s.
func normalizeForComparison(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func normalizedTokenTexts(tokens []protocol.Token) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Special {
			continue
		}
		out = append(out, normalizeForComparison(t.Text))
	}
	return out
}
