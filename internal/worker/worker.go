package worker

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
	done       func()
}

func NewWorker(pool *jobChannelPool, done func()) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
		done:       done,
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			if !w.pool.Release(w.jobChannel) {
				return
			}
			job := <-w.jobChannel
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("session", job.SessionID).Errorf("job panicked: %v", r)
		}
		if w.done != nil {
			w.done()
		}
	}()
	job.Task(w.pool.ctx)
}
