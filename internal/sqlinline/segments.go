package sqlinline

const QInsertSegment = `--sql 799e25dd-a43a-4433-bb80-c857a8636ca9
insert into segments (id, job_id, index, prompt, prompt_template, duration_seconds, speed, start_image, loras,
       faceswap_enabled, faceswap_method, faceswap_source_type, faceswap_image, faceswap_faces_order, faceswap_faces_index,
       auto_finalize, status, worker_id, worker_name, output_path, last_frame_path, progress_log, error_message,
       created_at, claimed_at, completed_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26);
`

const QGetSegment = `--sql ec438295-ed56-4406-a006-ae152df0abf2
select id, job_id, index, prompt, prompt_template, duration_seconds, speed, start_image, loras,
       faceswap_enabled, faceswap_method, faceswap_source_type, faceswap_image, faceswap_faces_order, faceswap_faces_index,
       auto_finalize, status, worker_id, worker_name, output_path, last_frame_path, progress_log, error_message,
       created_at, claimed_at, completed_at
from segments
where id = $1;
`

const QLockSegment = `--sql f2b4f3c5-2638-43df-b158-59d5336d7590
select id, job_id, index, prompt, prompt_template, duration_seconds, speed, start_image, loras,
       faceswap_enabled, faceswap_method, faceswap_source_type, faceswap_image, faceswap_faces_order, faceswap_faces_index,
       auto_finalize, status, worker_id, worker_name, output_path, last_frame_path, progress_log, error_message,
       created_at, claimed_at, completed_at
from segments
where id = $1
for update;
`

const QLockJobSegments = `--sql a899c5ba-d605-4a4d-a95c-bcd3e4c88f94
select id, job_id, index, prompt, prompt_template, duration_seconds, speed, start_image, loras,
       faceswap_enabled, faceswap_method, faceswap_source_type, faceswap_image, faceswap_faces_order, faceswap_faces_index,
       auto_finalize, status, worker_id, worker_name, output_path, last_frame_path, progress_log, error_message,
       created_at, claimed_at, completed_at
from segments
where job_id = $1
order by index asc
for update;
`

const QListSegments = `--sql b4538137-a7d7-4fb5-a9db-4f032ce6d714
select id, job_id, index, prompt, prompt_template, duration_seconds, speed, start_image, loras,
       faceswap_enabled, faceswap_method, faceswap_source_type, faceswap_image, faceswap_faces_order, faceswap_faces_index,
       auto_finalize, status, worker_id, worker_name, output_path, last_frame_path, progress_log, error_message,
       created_at, claimed_at, completed_at
from segments
where job_id = $1
order by index asc;
`

const QSegmentAt = `--sql 408904db-1286-4771-91f6-b0bccd0b054c
select id, job_id, index, prompt, prompt_template, duration_seconds, speed, start_image, loras,
       faceswap_enabled, faceswap_method, faceswap_source_type, faceswap_image, faceswap_faces_order, faceswap_faces_index,
       auto_finalize, status, worker_id, worker_name, output_path, last_frame_path, progress_log, error_message,
       created_at, claimed_at, completed_at
from segments
where job_id = $1 and index = $2;
`

const QUpdateSegment = `--sql 8a31b3a4-44cb-4151-a9d4-414a5d4e8a62
update segments
set index = $2,
    prompt = $3,
    prompt_template = $4,
    duration_seconds = $5,
    speed = $6,
    start_image = $7,
    loras = $8,
    faceswap_enabled = $9,
    faceswap_method = $10,
    faceswap_source_type = $11,
    faceswap_image = $12,
    faceswap_faces_order = $13,
    faceswap_faces_index = $14,
    auto_finalize = $15,
    status = $16,
    worker_id = $17,
    worker_name = $18,
    output_path = $19,
    last_frame_path = $20,
    progress_log = $21,
    error_message = $22,
    claimed_at = $23,
    completed_at = $24
where id = $1;
`

const QDeleteSegment = `--sql 63479a51-4ff5-407a-95e1-16193016d7d8
delete from segments
where id = $1;
`

// QReindexSegmentsShift moves every index of a job out of the 0..N-1 range
// so QReindexSegmentsRenumber never collides with the unique (job_id, index)
// constraint. Relative order is inverted and restored by the renumbering.
const QReindexSegmentsShift = `--sql 975126bf-b98e-4b38-947d-8ba73bb3daa3
update segments
set index = -index - 1
where job_id = $1;
`

const QReindexSegmentsRenumber = `--sql 7d25fae2-1c4b-4eaf-bd5e-bde5c959e2e6
with ordered as (
    select id, row_number() over (order by index desc) - 1 as new_index
    from segments
    where job_id = $1
)
update segments s
set index = ordered.new_index
from ordered
where s.id = ordered.id;
`

const QCountActiveSegments = `--sql c42d4105-67d0-45c0-a07a-756566082b77
select count(*)
from segments
where job_id = $1
  and status in ('pending', 'claimed', 'processing');
`
