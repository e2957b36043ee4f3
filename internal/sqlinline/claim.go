package sqlinline

// QReclaimStale resets claims older than $1. Rows locked by an in-flight
// report or claim are skipped and picked up by a later sweep.
const QReclaimStale = `--sql 5d6bb90d-f671-43c2-97b6-cf1e0330ae01
with stale as (
    select id
    from segments
    where status in ('claimed', 'processing')
      and claimed_at < $1
    for update skip locked
)
update segments s
set status = 'pending',
    worker_id = null,
    worker_name = null,
    claimed_at = null,
    progress_log = null
from stale
where s.id = stale.id;
`

// QLockNextClaimable selects the oldest pending segment of the highest
// priority dispatchable job, skipping rows other claimants hold.
const QLockNextClaimable = `--sql 0caa0833-9e6d-4412-86ed-3111121a88c4
select s.id, s.job_id, s.index, s.prompt, s.prompt_template, s.duration_seconds, s.speed, s.start_image, s.loras,
       s.faceswap_enabled, s.faceswap_method, s.faceswap_source_type, s.faceswap_image, s.faceswap_faces_order, s.faceswap_faces_index,
       s.auto_finalize, s.status, s.worker_id, s.worker_name, s.output_path, s.last_frame_path, s.progress_log, s.error_message,
       s.created_at, s.claimed_at, s.completed_at
from segments s
join jobs j on j.id = s.job_id
where s.status = 'pending'
  and j.status in ('pending', 'processing')
order by j.priority asc, s.created_at asc, s.id asc
limit 1
for update of s skip locked;
`
