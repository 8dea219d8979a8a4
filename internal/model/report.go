package model

import "time"

// UnitResult は1作業単位の処理結果を表す。Errがnilなら成功。
type UnitResult struct {
	Unit    string
	Count   int // その作業単位で作成・配信した件数
	Skipped bool
	Err     error
}

// RunReport は1回のステージ実行の集計結果を表す。
// 作業単位の失敗は記録されるが、実行全体を中断しない。
type RunReport struct {
	Stage     Stage
	StartedAt time.Time
	Duration  time.Duration
	Units     []UnitResult
}

// Add は作業単位の結果を追加する。
func (r *RunReport) Add(u UnitResult) {
	r.Units = append(r.Units, u)
}

// Succeeded は成功した作業単位の数を返す（スキップは含まない）。
func (r *RunReport) Succeeded() int {
	n := 0
	for _, u := range r.Units {
		if u.Err == nil && !u.Skipped {
			n++
		}
	}
	return n
}

// Failed は失敗した作業単位の数を返す。
func (r *RunReport) Failed() int {
	n := 0
	for _, u := range r.Units {
		if u.Err != nil {
			n++
		}
	}
	return n
}

// Total は成功した作業単位のCountの合計を返す。
func (r *RunReport) Total() int {
	n := 0
	for _, u := range r.Units {
		if u.Err == nil {
			n += u.Count
		}
	}
	return n
}

// Errors は失敗した作業単位のエラーを返す。
func (r *RunReport) Errors() []error {
	var errs []error
	for _, u := range r.Units {
		if u.Err != nil {
			errs = append(errs, u.Err)
		}
	}
	return errs
}
