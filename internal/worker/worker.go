package worker

import "log/slog"

type worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *worker {
	return &worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *worker) start() {
	go func() {
		for job := range w.jobChannel {
			if job.stop {
				slog.Debug("worker retired", "worker", w.id)
				w.pool.retire(w.jobChannel)
				return
			}
			w.pool.exec(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}
