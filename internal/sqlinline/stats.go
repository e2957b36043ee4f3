package sqlinline

const QRateSamples = `--sql de0816a1-831c-41a5-9a43-c5a930aca5d3
select j.width, j.height, j.fps, s.worker_name,
       extract(epoch from (s.completed_at - s.claimed_at))::double precision,
       s.duration_seconds
from segments s
join jobs j on j.id = s.job_id
where j.user_id = $1
  and s.status = 'completed'
  and s.claimed_at is not null
  and s.completed_at is not null
  and s.duration_seconds > 0;
`

const QJobStatusCounts = `--sql e0ca2b95-17fe-4c4e-8abe-f0dcd99b058f
select status, count(*)
from jobs
where user_id = $1
group by status;
`

const QSegmentStatusCounts = `--sql edbd49d0-1365-45d8-a074-6e57b4191730
select s.status, count(*)
from segments s
join jobs j on j.id = s.job_id
where j.user_id = $1
group by s.status;
`

const QCompletedTotals = `--sql 60ba01d1-d038-4967-beb0-8eed6e8119c0
select count(*),
       avg(extract(epoch from (s.completed_at - s.claimed_at)))::double precision,
       coalesce(sum(s.duration_seconds), 0)::double precision
from segments s
join jobs j on j.id = s.job_id
where j.user_id = $1
  and s.status = 'completed'
  and s.claimed_at is not null
  and s.completed_at is not null;
`

const QWorkerStats = `--sql 989b03d0-e57d-4a5d-acc7-de6881eed9d6
select s.worker_name,
       count(*),
       avg(extract(epoch from (s.completed_at - s.claimed_at)))::double precision,
       max(s.completed_at)
from segments s
join jobs j on j.id = s.job_id
where j.user_id = $1
  and s.status = 'completed'
  and s.claimed_at is not null
  and s.completed_at is not null
  and s.worker_name is not null
  and s.worker_name <> ''
group by s.worker_name
order by s.worker_name asc;
`
